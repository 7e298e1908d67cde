// Command autocov generates Go tests until a coverage threshold is reached.
package main

import "github.com/mouse-blink/autocov/cmd"

func main() {
	cmd.Execute()
}
