package main

import "github.com/helcl42/PreVEngine/cmd"

func main() {
	cmd.Execute()
}
