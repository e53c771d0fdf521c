// Package hcl provides the concrete HCL implementation of the configuration
// loading and data conversion interfaces defined in the `config` package.
// It is responsible for parsing graph files, translating their blocks into
// the format-agnostic model, and binding cty values to Go types.
//
// A graph file looks like this:
//
//	device "cpu:0" {
//	  memory = 65536
//	}
//
//	graph "main" {
//	  device = "cpu:0"
//
//	  parameter "x" {
//	    kind  = "input"
//	    dtype = "float32"
//	    shape = [2]
//	  }
//
//	  kernel "relu" {
//	    type   = "Relu"
//	    inputs = ["param.x"]
//	  }
//	}
//
//	program "demo" {
//	  inputs = ["graph.main.param.x"]
//
//	  output "y" {
//	    candidates = ["graph.main.kernel.relu[0]"]
//	  }
//	}
package hcl
