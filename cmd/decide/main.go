package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

func main() {
	code, err := execute(os.Args[1:], os.Stdout, nil)
	if err != nil {
		logrus.Error(err)
	}
	os.Exit(code)
}
