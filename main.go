package main

import "github.com/frahmantamala/autoservice-payments/cmd"

func main() {
	cmd.Execute()
}
