// Command llamaworker is the CLI front end over the worker/client core:
// load a GGUF model, tokenize and generate against it, or chat
// interactively, all driven through a single native worker goroutine.
package main

import "llamaworker/cmd"

func main() {
	cmd.Execute()
}
