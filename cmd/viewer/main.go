package main

import "github.com/rudransh-shrivastava/peer-stream/internal/client/cmd"

func main() {
	cmd.Execute()
}
