package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/censys/ospd-netstat/pkg/discovery"
	"github.com/censys/ospd-netstat/pkg/scan"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	failStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
)

func newScanCmd() *cobra.Command {
	// Secrets can come from NETSTAT_PASSWORD and NETSTAT_PASSPHRASE so they
	// stay out of the process list.
	v := viper.New()
	v.SetEnvPrefix("netstat")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a single netstat scan against one host",
		Example: `  ospd-netstat scan --host 10.0.0.5 --user root --key-file ~/.ssh/id_ed25519 --known-hosts ~/.ssh/known_hosts
  NETSTAT_PASSWORD=secret ospd-netstat scan --host 10.0.0.5 --user root --insecure --dump`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			return runScan(cmd, v)
		},
	}

	f := cmd.Flags()
	f.String("host", "", "target host name or address")
	f.Int("port", 0, "SSH port (default from config)")
	f.String("user", "", "SSH user name")
	f.String("password", "", "SSH password (prefer NETSTAT_PASSWORD)")
	f.String("key-file", "", "private key file")
	f.String("passphrase", "", "private key passphrase (prefer NETSTAT_PASSPHRASE)")
	f.String("platform", "", "remote platform: "+platformNames())
	f.String("known-hosts", "", "known_hosts file used to verify the host key")
	f.Bool("insecure", false, "skip host key verification")
	f.Bool("all-states", false, "report every socket, not only listening ones")
	f.Bool("dump", false, "include the raw netstat output")
	f.Duration("timeout", 0, "overall scan timeout (default from config)")
	f.Bool("json", false, "print the report as JSON")

	return cmd
}

func runScan(cmd *cobra.Command, v *viper.Viper) error {
	if v.GetString("known-hosts") != "" {
		cfg.SSH.KnownHostsFile = v.GetString("known-hosts")
	}
	if v.GetBool("insecure") {
		cfg.SSH.InsecureIgnoreHostKey = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	cred := discovery.Credential{
		Username:   v.GetString("user"),
		Password:   v.GetString("password"),
		Passphrase: v.GetString("passphrase"),
	}
	if path := v.GetString("key-file"); path != "" {
		key, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read key file: %w", err)
		}
		cred.PrivateKey = key
	}

	req := scan.Request{
		ScanID: "cli-" + strconv.FormatInt(time.Now().Unix(), 10),
		Target: discovery.Target{
			Host:     v.GetString("host"),
			Port:     v.GetInt("port"),
			Platform: discovery.Platform(v.GetString("platform")),
		},
		Credential: cred,
		DumpTable:  v.GetBool("dump"),
		AllStates:  v.GetBool("all-states"),
		Timeout:    v.GetDuration("timeout"),
	}

	runner := scan.NewRunner(discovery.New(cfg.Discovery(), logger), cfg.SSH.ScanTimeout, logger)
	report := runner.Execute(cmd.Context(), req)

	if err := writeReport(cmd.OutOrStdout(), report, v.GetBool("json")); err != nil {
		return err
	}
	if !report.Succeeded() {
		return fmt.Errorf("scan failed (%s)", report.Failure)
	}
	return nil
}

func writeReport(w io.Writer, report scan.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	if !report.Succeeded() {
		_, err := fmt.Fprintf(w, "%s %s: %s\n", failStyle.Render(strings.ToUpper(string(report.Failure))), report.Host, report.Error)
		return err
	}

	rows := make([][]string, 0, len(report.Ports))
	for _, p := range report.Ports {
		rows = append(rows, []string{p.Protocol, p.Address, strconv.Itoa(p.Port), p.State, p.Process})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers("PROTO", "ADDRESS", "PORT", "STATE", "PROCESS").
		Rows(rows...)

	if _, err := fmt.Fprintln(w, t.Render()); err != nil {
		return err
	}
	for _, r := range report.Results {
		if r.Type == scan.ResultLog && r.Name == scan.NameSummary {
			_, err := fmt.Fprintln(w, r.Value)
			return err
		}
	}
	return nil
}

func platformNames() string {
	names := make([]string, 0, len(discovery.Platforms()))
	for _, p := range discovery.Platforms() {
		names = append(names, string(p))
	}
	return strings.Join(names, ", ")
}
