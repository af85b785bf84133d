package responder

import (
	"context"
	"fmt"

	"assistant-hub/internal/domain"
)

const (
	KindTask = "task"
	KindFile = "file"
	KindLink = "link"

	TaskCompleted = "completed"
)

type cannedFunc func(text string) Reply

// Canned answers from a fixed table keyed by assistant id and falls back
// to a generic acknowledgement for anything else.
type Canned struct {
	table map[string]cannedFunc
}

// NewCanned returns the built-in canned responder.
func NewCanned() *Canned {
	return &Canned{table: map[string]cannedFunc{
		"paula": paulaReply,
		"marco": marcoReply,
		"diego": diegoReply,
	}}
}

// Has reports whether assistantID has a dedicated canned reply.
func (c *Canned) Has(assistantID string) bool {
	_, ok := c.table[assistantID]
	return ok
}

func (c *Canned) Reply(_ context.Context, req ReplyRequest) (Reply, error) {
	if fn, ok := c.table[req.Assistant.ID]; ok {
		return fn(req.Text), nil
	}
	return GenericReply(req.Text), nil
}

// GenericReply acknowledges text verbatim without metadata.
func GenericReply(text string) Reply {
	return Reply{
		Content: fmt.Sprintf("Entendido. He recibido tu mensaje: \"%s\". Estoy trabajando en ello y te respondo en breve.", text),
	}
}

// PaulaActions are the follow-up actions offered with every social content task.
var PaulaActions = []string{"Generar variaciones", "Programar publicación", "Adaptar a otras redes"}

func paulaReply(text string) Reply {
	return Reply{
		Content: fmt.Sprintf("¡Listo! Trabajé en tu pedido: \"%s\".\n\n"+
			"Propuesta principal: \"Tu próxima gran idea empieza hoy\".\n"+
			"Alternativas: \"Haz que cada publicación cuente\" y \"Contenido que conecta, resultados que se notan\".", text),
		Metadata: &domain.MessageMetadata{
			Kind:       KindTask,
			TaskStatus: TaskCompleted,
			Actions:    append([]string(nil), PaulaActions...),
		},
	}
}

func marcoReply(text string) Reply {
	return Reply{
		Content: fmt.Sprintf("Preparé un borrador de correo para: \"%s\". Lo adjunto listo para revisar y enviar.", text),
		Metadata: &domain.MessageMetadata{
			Kind:       KindFile,
			TaskStatus: TaskCompleted,
			FileURL:    "/files/borrador-email.docx",
			Actions:    []string{"Personalizar para el lead", "Crear secuencia de seguimiento"},
		},
	}
}

func diegoReply(text string) Reply {
	return Reply{
		Content: fmt.Sprintf("Configuré la automatización que pediste: \"%s\". Puedes revisarla en el panel de flujos.", text),
		Metadata: &domain.MessageMetadata{
			Kind:       KindLink,
			TaskStatus: TaskCompleted,
			LinkURL:    "/dashboard/automations",
			Actions:    []string{"Probar automatización", "Pausar"},
		},
	}
}
