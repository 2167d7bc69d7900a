package main

import (
	"os"
)

func main() {
	st := &state{open: openApp}
	err := newRootCmd(st).Execute()
	st.close()
	if err != nil {
		os.Exit(1)
	}
}
