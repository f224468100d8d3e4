package node

import (
	"os"

	json "github.com/goccy/go-json"

	"github.com/ShaeOJ/ClusterAxe-sub000/types"
)

// RoleStore persists the operating role across restarts, so a node rejoins
// the cluster in the same capacity it left it.
type RoleStore interface {
	Load() (types.Role, error)
	Save(role types.Role) error
}

type roleFile struct {
	Role string `json:"role"`
}

// FileRoleStore keeps the role in a small JSON file.
type FileRoleStore struct {
	path string
}

func NewFileRoleStore(path string) *FileRoleStore {
	return &FileRoleStore{path: path}
}

// Load reads the persisted role. A missing file means the node was never
// assigned one and comes up disabled.
func (s *FileRoleStore) Load() (types.Role, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return types.RoleDisabled, nil
		}
		return types.RoleDisabled, err
	}
	var rf roleFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return types.RoleDisabled, err
	}
	return types.ParseRole(rf.Role)
}

func (s *FileRoleStore) Save(role types.Role) error {
	data, err := json.Marshal(roleFile{Role: role.String()})
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0644)
}
