//go:build ignore

package main

import (
	"fmt"
	"os"

	"github.com/ormasoftchile/radproof/pkg/schema"
)

func main() {
	data, err := schema.GenerateJSONSchema()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile("schemas/scenario-v1.json", data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "write: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("wrote schemas/scenario-v1.json")

	targetData, err := schema.GenerateTargetJSONSchema()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error generating target schema: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile("schemas/target-v1.json", targetData, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "write: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("wrote schemas/target-v1.json")
}
