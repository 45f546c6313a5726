package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/v2xsec/internal/bootstrap"
	"github.com/dropDatabas3/v2xsec/internal/config"
	"github.com/dropDatabas3/v2xsec/internal/metrics"
	"github.com/dropDatabas3/v2xsec/internal/observability/logger"
	"github.com/dropDatabas3/v2xsec/internal/security/backend/software"
	"github.com/dropDatabas3/v2xsec/internal/security/certificate"
	"github.com/dropDatabas3/v2xsec/internal/security/secretbox"
	"github.com/dropDatabas3/v2xsec/internal/security/trust"
)

type certView struct {
	Kind      string    `json:"kind"`
	Index     *uint64   `json:"index,omitempty"`
	HashedID8 string    `json:"hashed_id8"`
	NotBefore time.Time `json:"not_before"`
	NotAfter  time.Time `json:"not_after"`
	Elected   *uint64   `json:"election_counter,omitempty"`
}

func viewOf(w *certificate.WithHash) certView {
	vp := w.ValidityPeriod()
	return certView{
		Kind:      w.Kind().String(),
		HashedID8: w.HashedId8().String(),
		NotBefore: vp.Start.Time(),
		NotAfter:  vp.End().Time(),
	}
}

func chainViews(c *trust.Chain) []certView {
	out := []certView{viewOf(c.Root())}
	for _, w := range []*certificate.WithHash{c.EA(), c.AA(), c.EC()} {
		if w != nil {
			out = append(out, viewOf(w))
		}
	}
	for _, idx := range c.ATIndexes() {
		e, ok := c.AT(idx)
		if !ok {
			continue
		}
		v := viewOf(e.Cert)
		i, n := idx, e.ElectionCounter
		v.Index, v.Elected = &i, &n
		out = append(out, v)
	}
	return out
}

func printViews(out string, views []certView) error {
	if out == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	}
	for _, v := range views {
		name := v.Kind
		if v.Index != nil {
			name = fmt.Sprintf("%s[%d] elected=%d", v.Kind, *v.Index, *v.Elected)
		}
		fmt.Printf("%-22s %s  %s → %s\n", name, v.HashedID8,
			v.NotBefore.Format(time.RFC3339), v.NotAfter.Format(time.RFC3339))
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.FromEnv()
	}
	return config.Load(path)
}

func parseKind(s string) (certificate.Kind, error) {
	for _, k := range []certificate.Kind{
		certificate.Root, certificate.EnrollmentAuthority, certificate.AuthorizationAuthority,
		certificate.EnrollmentCredential, certificate.AuthorizationTicket,
	} {
		if strings.EqualFold(s, k.String()) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("kind desconocido %q (root|ea|aa|ec|at)", s)
}

func main() {
	var (
		envFile    = ".env"
		configPath = os.Getenv("ITS_CONFIG")
		out        = "text"
	)

	root := &cobra.Command{
		Use:           "itssec",
		Short:         "Herramientas de la estación ITS (cadena de confianza y claves)",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load(envFile)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", envFile, "Archivo .env a cargar (si existe)")
	root.PersistentFlags().StringVar(&configPath, "config", configPath, "YAML de config (env ITS_CONFIG); vacío = solo env")
	root.PersistentFlags().StringVar(&out, "out", out, "Formato de salida: json|text")

	// chain: arma la cadena como lo haría la estación y la imprime
	var askPassphrase bool
	chainCmd := &cobra.Command{
		Use:   "chain",
		Short: "Arma e imprime la cadena de confianza del storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, StationID: cfg.Security.CanonicalID})
			defer func() { _ = logger.Sync() }()
			if err := metrics.RegisterSecurity(nil); err != nil {
				return err
			}
			if !cfg.Security.Enable {
				return fmt.Errorf("security deshabilitado (ITS_SECURITY_ENABLE)")
			}
			if askPassphrase && cfg.Security.KeyPassphrase == "" {
				if cfg.Security.KeyPassphrase, err = bootstrap.PromptPassphrase(os.Stderr, false); err != nil {
					return err
				}
			}

			ctx := logger.ToContext(context.Background(), logger.L())
			st, err := bootstrap.SetupSecurity(ctx, cfg, time.Now())
			if err != nil {
				return err
			}
			return printViews(out, chainViews(st.Security.Chain))
		},
	}
	chainCmd.Flags().BoolVar(&askPassphrase, "ask-passphrase", false, "Pedir la passphrase de claves por terminal")

	// hashid: HashedId8 de un certificado codificado
	var kindName string
	hashCmd := &cobra.Command{
		Use:   "hashid <cert-file>",
		Short: "Imprime el HashedId8 de un certificado",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(kindName)
			if err != nil {
				return err
			}
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			b, err := software.New(software.Options{})
			if err != nil {
				return err
			}
			w, err := certificate.Parse(kind, raw, b)
			if err != nil {
				return err
			}
			if out == "json" {
				return printViews(out, []certView{viewOf(w)})
			}
			fmt.Println(w.HashedId8().String())
			return nil
		},
	}
	hashCmd.Flags().StringVar(&kindName, "kind", "at", "Rol del certificado: root|ea|aa|ec|at")

	// keygen-passphrase: passphrase aleatoria para ITS_KEY_PASSPHRASE
	var nBytes int
	passCmd := &cobra.Command{
		Use:   "keygen-passphrase",
		Short: "Genera una passphrase aleatoria para sellar las claves",
		RunE: func(cmd *cobra.Command, args []string) error {
			if nBytes < 16 {
				return fmt.Errorf("--bytes debe ser >= 16")
			}
			p, err := secretbox.GeneratePassphrase(nBytes)
			if err != nil {
				return err
			}
			fmt.Printf("ITS_KEY_PASSPHRASE=%s\n", p)
			return nil
		},
	}
	passCmd.Flags().IntVar(&nBytes, "bytes", 32, "Bytes de entropía")

	root.AddCommand(chainCmd, hashCmd, passCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
