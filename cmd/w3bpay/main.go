package main

import "github.com/vietddude/w3bpay/internal/cli"

func main() {
	cli.Execute()
}
