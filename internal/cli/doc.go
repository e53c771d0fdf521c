// Package cli is responsible for parsing command-line arguments, validating
// user input, and handling process-level concerns like exit codes. It
// translates cobra flags into the application's configuration and runs the
// requested command:
//
//	flowgrid run [--input LITERAL]... [--history DB] [--dump FILE] PATH...
//	flowgrid validate PATH...
//	flowgrid dump PATH...
package cli
