// Package main is the PageSync service entry point.
package main

import "github.com/kimhsiao/pagesync/backend/cmd/pagesync/cmd"

func main() {
	cmd.Execute()
}
