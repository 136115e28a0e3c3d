package main

import "github.com/Verdict-Labs/verdict/cmd/verdictd/cmd"

func main() {
	cmd.Execute()
}
