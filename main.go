package main

import (
	"log"

	"github.com/kvinther/job-agent/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
