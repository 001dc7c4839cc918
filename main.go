package main

import "github.com/ValentinKolb/ikv/cmd"

func main() {
	cmd.Execute()
}
