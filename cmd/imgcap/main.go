// Command imgcap writes a caption file next to every image of a directory,
// using a vision-language model served by llama-server.
package main

import "os"

func main() {
	os.Exit(execute(os.Args[1:]))
}
