package main

import "github.com/arcward/recollect/cmd"

func main() {
	cmd.Execute()
}
