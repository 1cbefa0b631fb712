package repository

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/ghaggin/envelope/internal/config"
	"github.com/ghaggin/envelope/internal/model"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	errTableFileIsDir = errors.New("table file is dir")
)

type Data struct {
	Children []model.Child `json:"children"`
}

type jsonRepo struct {
	path  string
	log   *zap.Logger
	clock clockwork.Clock

	mu   sync.RWMutex
	data *Data
}

type jsonParams struct {
	fx.In

	LC     fx.Lifecycle
	Config *config.Config
	Clock  clockwork.Clock
	Log    *zap.Logger
}

func NewJSON(p jsonParams) (Repository, error) {
	r := &jsonRepo{
		path:  p.Config.JSONRepo.Path,
		log:   p.Log,
		clock: p.Clock,
		data:  &Data{},
	}

	err := r.readfile()
	if err != nil {
		// only log, data will be empty and will overwrite when
		// the service is stopped
		r.log.Warn("failed reading json repo data file", zap.Error(err))
	}

	p.LC.Append(fx.Hook{
		OnStop: r.stop,
	})

	return r, nil
}

func (r *jsonRepo) stop(_ context.Context) error {
	return r.writefile()
}

func (r *jsonRepo) readfile() error {
	finfo, err := os.Stat(r.path)
	if err != nil {
		return err
	}

	if finfo.IsDir() {
		return errTableFileIsDir
	}

	f, err := os.Open(r.path)
	if err != nil {
		return err
	}
	defer f.Close()

	return json.NewDecoder(f).Decode(r.data)
}

func (r *jsonRepo) writefile() error {
	r.mu.RLock()
	b, err := json.MarshalIndent(r.data, "", "  ")
	r.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(r.path, b, 0o600)
}

func (r *jsonRepo) GetChild(_ context.Context, id string) (*model.Child, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.data.Children {
		if c.ID == id {
			return &c, nil
		}
	}

	return nil, ErrNotFound
}

// AddChild assigns a new id and creation time to child.
func (r *jsonRepo) AddChild(_ context.Context, child *model.Child) error {
	child.ID = uuid.NewString()
	child.CreatedAt = r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.data.Children = append(r.data.Children, *child)
	return nil
}

func (r *jsonRepo) ListChildren(_ context.Context, parentID string) ([]model.Child, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var children []model.Child
	for _, c := range r.data.Children {
		if c.ParentID == parentID {
			children = append(children, c)
		}
	}

	return children, nil
}
