package main

import (
	"encoding/json"
	"fmt"
	"os"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "state":
			stateCmd(os.Args[2:])
			return
		case "pause":
			toggleCmd("pause", os.Args[2:])
			return
		case "resume":
			toggleCmd("resume", os.Args[2:])
			return
		case "directory":
			directoryCmd(os.Args[2:])
			return
		case "ticks":
			ticksCmd(os.Args[2:])
			return
		}
	}
	fmt.Fprintln(os.Stderr, "usage: admin <state|pause|resume|directory|ticks> [flags]")
	os.Exit(2)
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}
