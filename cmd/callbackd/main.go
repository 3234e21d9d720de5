// Package main implements the callbackd CLI.
package main

func main() {
	Execute()
}
