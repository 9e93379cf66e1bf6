// Package flow moves workflow and credential exports between the running
// automation server and the host, using the server's own in-container CLI.
package flow

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"filippo.io/age"
	"github.com/rs/zerolog"

	"gitlab.com/tbuchert/flowkeeper/internal/compose"
)

// scratch path inside the service container for export/import staging
const containerScratch = "/tmp/.flowkeeper"

// Porter drives export:workflow / export:credentials and their import
// counterparts inside the service container.
type Porter struct {
	Compose compose.Client
	Service string

	logger zerolog.Logger
}

func NewPorter(client compose.Client, service string, logger zerolog.Logger) *Porter {
	return &Porter{
		Compose: client,
		Service: service,
		logger:  logger,
	}
}

// export runs the given export subcommand in the container and copies the
// result to hostPath.
func (p *Porter) export(ctx context.Context, subcommand, hostPath string) error {
	scratch := path.Join(containerScratch, path.Base(hostPath))

	if _, err := p.Compose.Exec(ctx, p.Service, "mkdir", "-p", containerScratch); err != nil {
		return fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer p.Compose.Exec(ctx, p.Service, "rm", "-rf", containerScratch)

	if _, err := p.Compose.Exec(ctx, p.Service, "n8n", subcommand, "--all", "--output="+scratch); err != nil {
		return fmt.Errorf("%s failed: %w", subcommand, err)
	}
	if err := p.Compose.CopyFrom(ctx, p.Service, scratch, hostPath); err != nil {
		return fmt.Errorf("failed to copy %s export: %w", subcommand, err)
	}
	return nil
}

// ExportWorkflows writes the workflow export to hostPath.
func (p *Porter) ExportWorkflows(ctx context.Context, hostPath string) error {
	return p.export(ctx, "export:workflow", hostPath)
}

// ExportCredentials writes the credentials export to hostPath. The server
// emits ciphertext; when recipients are given the file is additionally age
// encrypted and hostPath gains an .age suffix.
func (p *Porter) ExportCredentials(ctx context.Context, hostPath string, recipients []age.Recipient) (string, error) {
	if err := p.export(ctx, "export:credentials", hostPath); err != nil {
		return "", err
	}
	if len(recipients) == 0 {
		return hostPath, nil
	}

	encrypted := hostPath + ".age"
	if err := encryptFile(hostPath, encrypted, recipients); err != nil {
		return "", err
	}
	if err := os.Remove(hostPath); err != nil {
		return "", fmt.Errorf("failed to remove plaintext export: %w", err)
	}
	return encrypted, nil
}

// importFile copies hostPath into the container and runs the given import
// subcommand on it.
func (p *Porter) importFile(ctx context.Context, subcommand, hostPath string) error {
	scratch := path.Join(containerScratch, path.Base(hostPath))

	if _, err := p.Compose.Exec(ctx, p.Service, "mkdir", "-p", containerScratch); err != nil {
		return fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer p.Compose.Exec(ctx, p.Service, "rm", "-rf", containerScratch)

	if err := p.Compose.CopyTo(ctx, p.Service, hostPath, scratch); err != nil {
		return fmt.Errorf("failed to copy import file: %w", err)
	}
	if _, err := p.Compose.Exec(ctx, p.Service, "n8n", subcommand, "--input="+scratch); err != nil {
		return fmt.Errorf("%s failed: %w", subcommand, err)
	}
	return nil
}

// ImportWorkflows feeds a workflow export back into the server.
func (p *Porter) ImportWorkflows(ctx context.Context, hostPath string) error {
	return p.importFile(ctx, "import:workflow", hostPath)
}

// ImportCredentials feeds a credentials export back into the server. An
// .age encrypted export requires identityFile to decrypt it first.
func (p *Porter) ImportCredentials(ctx context.Context, hostPath, identityFile string) error {
	if !strings.HasSuffix(hostPath, ".age") {
		return p.importFile(ctx, "import:credentials", hostPath)
	}

	if identityFile == "" {
		return fmt.Errorf("credentials export %s is encrypted and no age identity is configured", hostPath)
	}

	plain, err := decryptToTemp(hostPath, identityFile)
	if err != nil {
		return err
	}
	defer os.Remove(plain)

	return p.importFile(ctx, "import:credentials", plain)
}

// ParseRecipients parses a comma separated list of age public keys.
func ParseRecipients(spec string) ([]age.Recipient, error) {
	var recipients []age.Recipient
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		recipient, err := age.ParseX25519Recipient(part)
		if err != nil {
			return nil, fmt.Errorf("invalid age recipient %q: %w", part, err)
		}
		recipients = append(recipients, recipient)
	}
	return recipients, nil
}

func encryptFile(src, dest string, recipients []age.Recipient) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	defer out.Close()

	encrypted, err := age.Encrypt(out, recipients...)
	if err != nil {
		return fmt.Errorf("failed age encryption: %w", err)
	}
	if _, err := io.Copy(encrypted, in); err != nil {
		return fmt.Errorf("failed to encrypt %s: %w", src, err)
	}
	if err := encrypted.Close(); err != nil {
		return fmt.Errorf("failed to finish encryption: %w", err)
	}
	return out.Close()
}

// decryptToTemp decrypts an age file next to the source and returns the
// plaintext path. The caller removes it.
func decryptToTemp(src, identityFile string) (string, error) {
	idFile, err := os.Open(identityFile)
	if err != nil {
		return "", fmt.Errorf("failed to open identity file: %w", err)
	}
	defer idFile.Close()

	identities, err := age.ParseIdentities(idFile)
	if err != nil {
		return "", fmt.Errorf("failed to parse identity file: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	decrypted, err := age.Decrypt(in, identities...)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt %s: %w", src, err)
	}

	out, err := os.CreateTemp("", "flowkeeper-credentials-*.json")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, decrypted); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", fmt.Errorf("failed to write decrypted export: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", err
	}
	return out.Name(), nil
}
