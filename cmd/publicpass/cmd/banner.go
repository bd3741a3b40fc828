package cmd

import (
	"fmt"
)

const banner = `
  _____       _     _ _      _____
 |  __ \     | |   | (_)    |  __ \
 | |__) |   _| |__ | |_  ___| |__) |_ _ ___ ___
 |  ___/ | | | '_ \| | |/ __|  ___/ _` + "`" + ` / __/ __|
 | |   | |_| | |_) | | | (__| |  | (_| \__ \__ \
 |_|    \__,_|_.__/|_|_|\___|_|   \__,_|___/___/

`

func printBanner() {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  Session Transfer Service - Version %s\x1b[0m\n\n", Version)
}
