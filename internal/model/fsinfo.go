// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines FSInfo, which ties a compiled graph back to the file it
// was declared in so that build errors can name it.
package model

type FSInfo struct {
	FilePath string
}

func NewFSInfo(filePath string) *FSInfo {
	return &FSInfo{
		FilePath: filePath,
	}
}

func (f *FSInfo) String() string {
	if f == nil || f.FilePath == "" {
		return "<memory>"
	}
	return f.FilePath
}
