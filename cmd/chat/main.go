// Command chat is a terminal chat client. It selects an assistant,
// prints the conversation as it grows and plays audio cues for sent and
// received messages.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	flag "github.com/spf13/pflag"

	"assistant-hub/internal/app"
	"assistant-hub/internal/audio"
	"assistant-hub/internal/clock"
	"assistant-hub/internal/config"
	"assistant-hub/internal/domain"
	"assistant-hub/internal/responder"
	"assistant-hub/internal/session"
	"assistant-hub/internal/store"
)

const help = `Comandos:
  /asistentes           lista los asistentes
  /asistente <id>       cambia de asistente
  /panel                muestra las métricas de uso
  /reintentar           reintenta cargar la conversación
  /silencio, /sonido    desactiva o activa los sonidos
  /volumen <0-1>        ajusta el volumen
  /salir                termina`

func main() {
	user := flag.String("user", envOr("USER", "local-user"), "user id")
	assistantID := flag.String("assistant", "paula", "assistant to chat with")
	memory := flag.Bool("memory", true, "keep all state in memory instead of DynamoDB")
	envFile := flag.String("env-file", ".env", "optional KEY=value file loaded before reading the environment")
	prefs := flag.String("audio-prefs", defaultPrefsPath(), "audio preferences file")
	pcmOut := flag.String("pcm-out", "", "write audio cues as raw 16-bit PCM to this file")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fail("failed to load env file", err)
	}
	cfg, err := config.Load(os.Getenv)
	if err != nil {
		fail("invalid configuration", err)
	}
	log := config.NewLogger(os.Stderr, cfg.LogLevel)

	ctx := context.Background()
	a, err := app.Build(ctx, cfg, app.Options{Memory: *memory, Logger: log})
	if err != nil {
		fail("failed to build application", err)
	}
	defer a.Close()

	var pcm io.Writer = io.Discard
	if *pcmOut != "" {
		f, err := os.Create(*pcmOut)
		if err != nil {
			fail("failed to open pcm output", err)
		}
		defer f.Close()
		pcm = f
	}
	synth, err := audio.NewPCMSynth(pcm, audio.DefaultSampleRate)
	if err != nil {
		fail("failed to create synth", err)
	}
	if err := os.MkdirAll(filepath.Dir(*prefs), 0o700); err != nil {
		fail("failed to create preferences directory", err)
	}
	player, err := audio.Open(*prefs, synth, clock.Real(), log)
	if err != nil {
		fail("failed to open audio preferences", err)
	}
	defer player.Close()

	out := &syncWriter{w: os.Stdout}
	st := store.New()
	sess, err := session.New(a.Chat, a.Subscriber,
		session.WithStore(st),
		session.WithLogger(log),
		session.OnMessage(func(m domain.Message) {
			printMessage(out, m)
			if m.Role != domain.RoleAssistant {
				return
			}
			if m.Metadata != nil && m.Metadata.TaskStatus == responder.TaskCompleted {
				player.TaskCompleted()
			} else {
				player.MessageReceived()
			}
		}),
	)
	if err != nil {
		fail("failed to create session", err)
	}
	defer sess.Close()

	c := &client{ctx: ctx, user: *user, app: a, sess: sess, store: st, player: player, out: out}
	c.open(*assistantID)
	fmt.Fprintln(out, help)

	in := bufio.NewScanner(os.Stdin)
	for in.Scan() {
		if !c.handle(strings.TrimSpace(in.Text())) {
			break
		}
	}
}

// syncWriter serializes writes from the input loop and the session's
// feed goroutine.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

type client struct {
	ctx    context.Context
	user   string
	app    *app.App
	sess   *session.Session
	store  *store.Store
	player *audio.Player
	out    io.Writer
}

func (c *client) open(assistantID string) {
	if err := c.sess.Select(c.ctx, c.user, assistantID); err != nil {
		c.player.Error()
		fmt.Fprintf(c.out, "No se pudo cargar la conversación: %v\nEscribe /reintentar para volver a intentarlo.\n", err)
		return
	}
	c.printConversation()
}

// printAssistants lists the catalog with the time of the last
// conversation the user had with each assistant.
func (c *client) printAssistants() {
	last := make(map[string]domain.Conversation)
	if list, err := c.sess.RefreshConversations(c.ctx, c.user); err != nil {
		fmt.Fprintf(c.out, "No se pudieron leer las conversaciones: %v\n", err)
	} else {
		for _, conv := range list {
			last[conv.AssistantID] = conv
		}
	}
	for _, a := range c.app.Catalog.List() {
		line := fmt.Sprintf("  %-6s %s · %s", a.ID, a.Name, a.Role)
		if conv, ok := last[a.ID]; ok {
			line += "  (última vez " + conv.UpdatedAt.Local().Format("02/01 15:04") + ")"
		}
		fmt.Fprintln(c.out, line)
	}
}

func (c *client) printConversation() {
	snap := c.store.Snapshot()
	if snap.ActiveAssistant != nil {
		fmt.Fprintf(c.out, "== %s · %s ==\n", snap.ActiveAssistant.Name, snap.ActiveAssistant.Role)
	}
	for _, m := range c.sess.Messages() {
		printMessage(c.out, m)
	}
}

// handle runs one input line and reports whether to keep reading.
func (c *client) handle(line string) bool {
	if line == "" {
		return true
	}
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/salir":
		return false
	case "/asistentes":
		c.printAssistants()
	case "/asistente":
		c.open(arg)
	case "/reintentar":
		if c.sess.State() != session.StateFailed {
			fmt.Fprintln(c.out, "La conversación ya está cargada.")
			return true
		}
		if err := c.sess.Retry(c.ctx); err != nil {
			c.player.Error()
			fmt.Fprintf(c.out, "Sigue fallando: %v\n", err)
			return true
		}
		c.printConversation()
	case "/panel":
		c.printDashboard()
	case "/silencio", "/sonido":
		if err := c.player.SetEnabled(cmd == "/sonido"); err != nil {
			fmt.Fprintf(c.out, "No se pudo guardar la preferencia: %v\n", err)
		}
	case "/volumen":
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			fmt.Fprintln(c.out, "Uso: /volumen <0-1>")
			return true
		}
		if err := c.player.SetVolume(v); err != nil {
			fmt.Fprintf(c.out, "No se pudo guardar la preferencia: %v\n", err)
		}
	default:
		if strings.HasPrefix(cmd, "/") {
			fmt.Fprintln(c.out, help)
			return true
		}
		c.send(line)
	}
	return true
}

func (c *client) send(text string) {
	_, err := c.sess.Send(c.ctx, text)
	switch {
	case err == nil:
		c.player.MessageSent()
	case errors.Is(err, session.ErrSendInProgress):
		fmt.Fprintln(c.out, "Espera a que llegue la respuesta anterior.")
	case errors.Is(err, session.ErrNotReady):
		fmt.Fprintln(c.out, "La conversación no está lista. Prueba /reintentar.")
	default:
		c.player.Error()
		fmt.Fprintf(c.out, "No se pudo enviar el mensaje: %v\n", err)
	}
}

func (c *client) printDashboard() {
	m, err := c.app.Usage.Current(c.ctx, c.user)
	if err != nil {
		fmt.Fprintf(c.out, "No se pudieron leer las métricas: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Conversaciones: %d  Tareas: %d  Archivos: %d  Automatizaciones: %d  Horas ahorradas: %d\n",
		m.Conversations, m.TasksCompleted, m.FilesGenerated, m.Automations, m.TimeSavedHours)
	acts, err := c.app.Usage.RecentActivities(c.ctx, c.user, 5)
	if err != nil {
		return
	}
	for _, a := range acts {
		fmt.Fprintf(c.out, "  %s  %-16s %s\n", a.CreatedAt.Local().Format("02/01 15:04"), a.Kind, a.Description)
	}
}

// printMessage writes m in a single call so lines from concurrent
// writers do not interleave.
func printMessage(w io.Writer, m domain.Message) {
	who := "tú"
	if m.Role == domain.RoleAssistant {
		who = "asistente"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04:05"), who, m.Content)
	if md := m.Metadata; md != nil {
		switch {
		case md.FileURL != "":
			fmt.Fprintf(&b, "    archivo: %s\n", md.FileURL)
		case md.LinkURL != "":
			fmt.Fprintf(&b, "    enlace: %s\n", md.LinkURL)
		}
		for _, a := range md.Actions {
			fmt.Fprintf(&b, "    → %s\n", a)
		}
	}
	io.WriteString(w, b.String())
}

func defaultPrefsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "assistant-hub", "audio.db")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fail(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
