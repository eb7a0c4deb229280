// Package main testkit CLI 入口
package main

import "yqhp/testkit/cmd"

func main() {
	cmd.Execute()
}
