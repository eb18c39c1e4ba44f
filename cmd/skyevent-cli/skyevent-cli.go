/*
CLI for skyevent node
*/
package main

import "github.com/skycoin/skyevent/cmd/skyevent-cli/commands"

func main() {
	commands.Execute()
}
