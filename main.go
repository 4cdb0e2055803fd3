package main

import (
	"github.com/deckhand-sh/deckhand/cmd"
)

func main() {
	cmd.Execute()
}
