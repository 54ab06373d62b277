// Command gearctl runs maintenance jobs against the gear checkout store.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
