package main

import "github.com/frahmantamala/courier-backoffice/cmd"

func main() {
	cmd.Execute()
}
