package main

import "github.com/publicpass/publicpass/cmd/publicpass/cmd"

func main() {
	cmd.Execute()
}
