// Command kvingest builds bulk-load files from text input and publishes
// them to a blob store.
package main

func main() {
	Execute()
}
