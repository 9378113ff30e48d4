// Command colorserver runs the random colour peripheral: it publishes the
// configured GATT services, advertises, and pushes a new colour to
// subscribers at a fixed interval.
package main

func main() {
	NewCli().Execute()
}
