// Command sign-actor produces gateway identity headers for local testing.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/debemdeboas/forum-attachments/internal/auth"
	"github.com/debemdeboas/forum-attachments/internal/config"
	"github.com/debemdeboas/forum-attachments/internal/model"
)

func main() {
	keyFile := flag.String("key", "privkey.pem", "PKCS8 PEM encoded ed25519 private key")
	flag.Parse()

	privKey, err := auth.LoadPrivateKey(*keyFile)
	if err != nil {
		fmt.Println("Error loading private key:", err)
		os.Exit(1)
	}

	defaults := config.AuthConfig{}
	config.ApplyDefaults(&defaults)

	promptStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("63")).Bold(true)
	outputStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	errorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	fmt.Println("Enter '<actor id> [can attach]' one per line. Type 'quit' to exit.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(promptStyle.Render("Actor: "))

		if !scanner.Scan() {
			break
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "quit" {
			break
		}

		actor := auth.Actor{ID: model.UserID(fields[0]), CanAttach: true}
		if len(fields) > 1 {
			canAttach, err := strconv.ParseBool(fields[1])
			if err != nil {
				fmt.Println(errorStyle.Render("Error: can attach must be true or false"))
				continue
			}
			actor.CanAttach = canAttach
		}

		fmt.Println(outputStyle.Render(defaults.ActorHeader + ": " + string(actor.ID)))
		fmt.Println(outputStyle.Render(defaults.CanAttachHeader + ": " + strconv.FormatBool(actor.CanAttach)))
		fmt.Println(outputStyle.Render(defaults.SignatureHeader + ": " + auth.SignActor(privKey, actor)))
	}

	if err := scanner.Err(); err != nil {
		fmt.Println("Error reading input:", err)
	}
}
