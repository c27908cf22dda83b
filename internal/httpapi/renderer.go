package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/TheRealM4rtin/Clippia-sub000/internal/board"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/geometry"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/localkv"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/session"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/syncqueue"
)

const sessionCloseTimeout = 10 * time.Second

// Renderer message types. Every client message is answered with one frame.
const (
	msgCreate      = "create"
	msgImage       = "image"
	msgUpdate      = "update"
	msgRemove      = "remove"
	msgFocus       = "focus"
	msgContent     = "content"
	msgPointerDown = "pointerDown"
	msgPointerMove = "pointerMove"
	msgPointerUp   = "pointerUp"
	msgMoveEnd     = "moveEnd"
	msgResize      = "resize"
	msgZoom        = "zoom"
	msgChanges     = "changes"
	msgConnect     = "connect"
	msgFlush       = "flush"
	msgDismiss     = "dismiss"
	msgAuth        = "auth"
)

var errUnknownMessage = errors.New("unknown message type")

type clientMessage struct {
	Type     string                 `json:"type"`
	ID       string                 `json:"id,omitempty"`
	Window   *board.WindowInit      `json:"window,omitempty"`
	Patch    *board.WindowPatch     `json:"patch,omitempty"`
	Content  string                 `json:"content,omitempty"`
	Image    *imageUpload           `json:"image,omitempty"`
	Target   *session.PointerTarget `json:"target,omitempty"`
	Point    geometry.Point         `json:"point"`
	Viewport *geometry.Viewport     `json:"viewport,omitempty"`
	Size     *geometry.Size         `json:"size,omitempty"`
	Steps    float64                `json:"steps,omitempty"`
	Changes  []board.Change         `json:"changes,omitempty"`
	Source   string                 `json:"source,omitempty"`
	TargetID string                 `json:"targetId,omitempty"`
	Index    int                    `json:"index,omitempty"`
	Token    string                 `json:"token,omitempty"`
}

type imageUpload struct {
	Title       string `json:"title"`
	ContentType string `json:"contentType,omitempty"`
	Data        []byte `json:"data,omitempty"`
	URL         string `json:"url,omitempty"`
}

type serverMessage struct {
	Type    string        `json:"type"`
	Frame   *frameMessage `json:"frame,omitempty"`
	Created []string      `json:"created,omitempty"`
	Error   *wireError    `json:"error,omitempty"`
}

type frameMessage struct {
	Nodes       []board.Node       `json:"nodes"`
	Edges       []board.Edge       `json:"edges"`
	Viewport    geometry.Viewport  `json:"viewport"`
	SuppressPan bool               `json:"suppressPan"`
	Errors      []syncErrorMessage `json:"errors"`
}

type syncErrorMessage struct {
	Kind     syncqueue.Kind `json:"kind"`
	Message  string         `json:"message"`
	Attempts int            `json:"attempts,omitempty"`
	At       time.Time      `json:"at"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handleSession upgrades to a WebSocket and drives one board session for the
// token's user. Browsers cannot set headers on upgrades, so the token may
// also come from the token query parameter.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	var (
		claims  Claims
		authErr *authError
	)
	if raw := r.URL.Query().Get("token"); raw != "" {
		claims, authErr = parseToken(raw, s.cfg.JWTSecret, s.now())
	} else {
		claims, authErr = parseBearer(r.Header.Get("Authorization"), s.cfg.JWTSecret, s.now())
	}
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, correlationID)
		return
	}
	if !s.allow(w, claims.Subject, correlationID) {
		return
	}

	var kv localkv.KV = localkv.NewMemory()
	if s.cfg.LocalKV != nil {
		userKV, err := s.cfg.LocalKV(claims.Subject)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
			return
		}
		kv = userKV
	}
	sess, err := session.New(session.Options{
		Entitlement: session.Entitlement{UserID: claims.Subject, Paid: claims.Paid},
		Syncer:      s.syncer,
		KV:          kv,
		Logger:      s.cfg.Logger,
		RetryDelay:  s.cfg.SaveRetryDelay,
		MaxRetries:  s.cfg.SaveMaxRetries,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		return
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), sessionCloseTimeout)
		defer cancel()
		if err := sess.Close(ctx); err != nil {
			s.logf("close session for %s: %v", claims.Subject, err)
		}
	}()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logf("session upgrade for %s: %v", claims.Subject, err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(s.cfg.MaxBodyBytes)
	s.trackSession(1)
	defer s.trackSession(-1)

	ctx := r.Context()
	if err := sess.Open(ctx); err != nil {
		s.logf("load whiteboard for %s: %v", claims.Subject, err)
		_ = wsjson.Write(ctx, conn, serverMessage{Type: "error", Error: &wireError{Code: "load_failed", Message: err.Error()}})
		conn.Close(websocket.StatusInternalError, "load failed")
		return
	}
	if err := wsjson.Write(ctx, conn, frameReply(sess)); err != nil {
		return
	}

	for {
		var msg clientMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if ctx.Err() == nil {
					s.logf("session read for %s: %v", claims.Subject, err)
				}
			}
			return
		}
		reply := s.dispatch(ctx, sess, claims.Subject, msg)
		if err := wsjson.Write(ctx, conn, reply); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, sess *session.Session, userID string, msg clientMessage) serverMessage {
	var (
		created []string
		err     error
	)
	switch msg.Type {
	case msgCreate:
		init := board.WindowInit{}
		if msg.Window != nil {
			init = *msg.Window
		}
		created = []string{sess.CreateWindow(init).ID}
	case msgImage:
		if msg.Image == nil {
			err = errMissingField("image")
			break
		}
		var w board.Window
		if msg.Image.URL != "" {
			w, err = sess.AddImageURL(msg.Image.Title, msg.Image.URL)
		} else {
			w, err = sess.AddImage(msg.Image.Title, msg.Image.ContentType, msg.Image.Data)
		}
		if err == nil {
			created = []string{w.ID}
		}
	case msgUpdate:
		if msg.Patch == nil {
			err = errMissingField("patch")
		} else if !sess.UpdateWindow(msg.ID, *msg.Patch) {
			err = session.ErrUnknownWindow
		}
	case msgRemove:
		if !sess.RemoveWindow(msg.ID) {
			err = session.ErrUnknownWindow
		}
	case msgFocus:
		if !sess.FocusWindow(msg.ID) {
			err = session.ErrUnknownWindow
		}
	case msgContent:
		err = sess.EditContent(msg.ID, msg.Content)
	case msgPointerDown:
		if msg.Target == nil {
			err = errMissingField("target")
			break
		}
		sess.PointerDown(msg.ID, *msg.Target, msg.Point)
	case msgPointerMove:
		sess.PointerMove(msg.Point)
	case msgPointerUp:
		sess.PointerUp(msg.Point)
	case msgMoveEnd:
		if msg.Viewport == nil {
			err = errMissingField("viewport")
			break
		}
		sess.MoveEnd(*msg.Viewport)
	case msgResize:
		if msg.Size == nil {
			err = errMissingField("size")
			break
		}
		sess.SetViewportSize(*msg.Size)
	case msgZoom:
		sess.Zoom(msg.Steps, msg.Point)
	case msgChanges:
		sess.ApplyChanges(msg.Changes)
	case msgConnect:
		if _, ok := sess.Connect(msg.Source, msg.TargetID); !ok {
			err = session.ErrUnknownWindow
		}
	case msgFlush:
		created = sess.FlushChanges()
		err = sess.Save()
	case msgDismiss:
		sess.DismissError(msg.Index)
	case msgAuth:
		claims, authErr := parseToken(msg.Token, s.cfg.JWTSecret, s.now())
		if authErr == nil {
			_, authErr = authorizeClaims(claims, userID, false)
		}
		if authErr != nil {
			return serverMessage{Type: "error", Error: &wireError{Code: authErr.code, Message: authErr.message}}
		}
		err = sess.SetEntitlement(ctx, claims.Paid)
	default:
		err = errUnknownMessage
	}

	reply := frameReply(sess)
	reply.Created = created
	if err != nil {
		reply.Error = toWireError(err)
	}
	return reply
}

func frameReply(sess *session.Session) serverMessage {
	frame := sess.Frame()
	errs := make([]syncErrorMessage, 0, len(frame.Errors))
	for _, e := range frame.Errors {
		msg := syncErrorMessage{Kind: e.Kind, Attempts: e.Attempts, At: e.At}
		if e.Err != nil {
			msg.Message = e.Err.Error()
		}
		errs = append(errs, msg)
	}
	return serverMessage{
		Type: "frame",
		Frame: &frameMessage{
			Nodes:       frame.Nodes,
			Edges:       frame.Edges,
			Viewport:    frame.Viewport,
			SuppressPan: frame.SuppressesPan,
			Errors:      errs,
		},
	}
}

type missingFieldError string

func (e missingFieldError) Error() string {
	return "missing " + string(e)
}

func errMissingField(name string) error {
	return missingFieldError(name)
}

func toWireError(err error) *wireError {
	code := "bad_request"
	switch {
	case errors.Is(err, session.ErrUnknownWindow):
		code = "not_found"
	case errors.Is(err, session.ErrReadOnly):
		code = "read_only"
	case errors.Is(err, session.ErrClosed):
		code = "closed"
	case errors.Is(err, board.ErrValidation):
		code = "invalid_input"
	case errors.Is(err, syncqueue.ErrNotEntitled):
		code = "payment_required"
	case errors.Is(err, session.ErrLoadFailed):
		code = "load_failed"
	}
	return &wireError{Code: code, Message: err.Error()}
}
