package main

import (
	"golang.org/x/tools/go/analysis/singlechecker"

	"basegraph.app/scambait/tools/linters/enumvalidator"
)

func main() {
	singlechecker.Main(enumvalidator.Analyzer)
}
