package main

import "github.com/MeKo-Tech/ocrprep/cmd/ocrprep/cmd"

func main() {
	cmd.Execute()
}
