// Command malspp runs and inspects MAL/SPP nodes.
package main

func main() {
	Execute()
}
