package main

import "github.com/fashionrec/fashionrec-deploy/cmd/fashionrec-packager/cmd"

func main() {
	cmd.Execute()
}
