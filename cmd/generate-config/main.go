package main

import (
	"fmt"
	"os"

	"github.com/debemdeboas/forum-attachments/internal/config"
	"gopkg.in/yaml.v3"
)

const header = `# Forum attachments configuration example
# Copy this file to config.yaml and customize as needed.
# Secrets belong in the environment:
#   ` + config.EnvDatabaseDSN + `, ` + config.EnvS3AccessKeyID + `, ` + config.EnvS3SecretAccessKey + `,
#   ` + config.EnvGCSCredentials + `, ` + config.EnvGatewayPublicKey + `

`

func main() {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)

	yamlData, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating YAML: %v\n", err)
		os.Exit(1)
	}
	output := header + string(yamlData)

	outputFile := "config.example.yaml"
	if len(os.Args) > 1 {
		outputFile = os.Args[1]
	}

	if outputFile == "-" {
		fmt.Print(output)
		return
	}
	if err := os.WriteFile(outputFile, []byte(output), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing file: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Generated example config: %s\n", outputFile)
}
