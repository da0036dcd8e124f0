package main

import "github.com/fashionrec/fashionrec-deploy/cmd/fashionrec-deployer/cmd"

func main() {
	cmd.Execute()
}
