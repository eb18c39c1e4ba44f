/*
skyevent chat room node
*/
package main

import "github.com/skycoin/skyevent/cmd/skyevent-node/commands"

func main() {
	commands.Execute()
}
