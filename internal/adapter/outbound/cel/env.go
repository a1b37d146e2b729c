package cel

import (
	"path"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/Sentinel-Gate/dashgate/internal/domain/gate"
)

// NewAccessEnvironment creates the CEL environment of access conditions.
//   - Variables: role, user_id, email, path, email_domain
//   - Functions: glob(pattern, s), path_under(path, prefix)
func NewAccessEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("role", cel.StringType),
		cel.Variable("user_id", cel.StringType),
		cel.Variable("email", cel.StringType),
		cel.Variable("email_domain", cel.StringType),
		cel.Variable("path", cel.StringType),

		// glob: shell-style match, e.g. glob("/reports/*", path)
		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, name ref.Val) ref.Val {
					p, ok1 := pattern.Value().(string)
					n, ok2 := name.Value().(string)
					if !ok1 || !ok2 {
						return types.Bool(false)
					}
					matched, _ := path.Match(p, n)
					return types.Bool(matched)
				}),
			),
		),

		// path_under: segment-aware prefix test, so "/admin" covers
		// "/admin/users" but not "/administrator".
		cel.Function("path_under",
			cel.Overload("path_under_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pathVal, prefixVal ref.Val) ref.Val {
					p, ok1 := pathVal.Value().(string)
					prefix, ok2 := prefixVal.Value().(string)
					if !ok1 || !ok2 {
						return types.Bool(false)
					}
					prefix = strings.TrimRight(prefix, "/")
					if prefix == "" {
						return types.Bool(true)
					}
					return types.Bool(p == prefix || strings.HasPrefix(p, prefix+"/"))
				}),
			),
		),
	)
}

// BuildActivation maps a gate subject onto the environment's variables.
// Missing user or profile fields become empty strings.
func BuildActivation(s gate.Subject) map[string]any {
	var role, userID, email string
	if s.Profile != nil {
		role = string(s.Profile.Role)
	}
	if s.User != nil {
		userID = s.User.ID
		email = s.User.Email
	}
	var domain string
	if i := strings.LastIndexByte(email, '@'); i >= 0 {
		domain = strings.ToLower(email[i+1:])
	}
	return map[string]any{
		"role":         role,
		"user_id":      userID,
		"email":        email,
		"email_domain": domain,
		"path":         s.Path,
	}
}
