package buildsys

import (
	"fmt"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
)

// normalizePath turns script paths into absolute paths. "//" marks paths relative to the project
// root, "/" absolute paths and everything else is relative to the script's directory. Each
// element is resolved relative to the previous one.
func normalizePath(ctx *parserCtx, pathList ...string) string {
	result := filepath.Dir(ctx.filepath)

	for _, path := range pathList {
		switch {
		case strings.HasPrefix(path, "//"):
			result = filepath.Join(ctx.projectRoot, path[2:])
		case strings.HasPrefix(path, "/"):
			result = filepath.Join(filepath.VolumeName(result), path)
		case filepath.IsAbs(path):
			result = path
		default:
			result = filepath.Join(result, path)
		}
	}

	return filepath.Clean(result)
}

// simplifyPath shortens paths inside the project root to the "//" notation
func simplifyPath(projectRoot, path string) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}

	rel, err := filepath.Rel(projectRoot, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}

	if rel == "." {
		return "//"
	}
	return "//" + filepath.ToSlash(rel)
}

// shellQuote quotes value for a POSIX shell unless it only contains safe characters
func shellQuote(value string) string {
	if value != "" && !strings.ContainsAny(value, " \t\n'\"$\\`*?[]{}()<>|&;#~") {
		return value
	}

	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}

func starlarkString(value starlark.Value, field string) (string, error) {
	switch value := value.(type) {
	case starlark.String:
		return value.GoString(), nil
	case StarlarkPath:
		return string(value), nil
	default:
		return "", eris.Errorf("expected %s to be a string or path but found %s", field, value.Type())
	}
}

func interfaceToStarlark(value interface{}) (starlark.Value, error) {
	// handle a few simple and common cases first
	switch value := value.(type) {
	case nil:
		return starlark.None, nil
	case string:
		return starlark.String(value), nil
	case int:
		return starlark.MakeInt(value), nil
	case int64:
		return starlark.MakeInt64(value), nil
	case uint64:
		return starlark.MakeUint64(value), nil
	case bool:
		return starlark.Bool(value), nil
	case float32:
		return starlark.Float(value), nil
	case float64:
		// JSON doesn't distinguish ints and floats
		if value == float64(int64(value)) {
			return starlark.MakeInt64(int64(value)), nil
		}
		return starlark.Float(value), nil
	case []string:
		items := make(starlark.Tuple, len(value))
		for idx, raw := range value {
			items[idx] = starlark.String(raw)
		}

		return items, nil
	}

	refValue := reflect.ValueOf(value)
	switch refValue.Kind() {
	case reflect.Slice, reflect.Array:
		tuple := make(starlark.Tuple, refValue.Len())
		for idx := 0; idx < refValue.Len(); idx++ {
			var err error
			tuple[idx], err = interfaceToStarlark(refValue.Index(idx).Interface())
			if err != nil {
				return nil, err
			}
		}

		return tuple, nil
	case reflect.Map:
		// sorted keys keep the dict's iteration order stable
		keys := refValue.MapKeys()
		sort.Slice(keys, func(i, j int) bool {
			return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
		})

		dict := starlark.NewDict(len(keys))
		for _, rawKey := range keys {
			key, err := interfaceToStarlark(rawKey.Interface())
			if err != nil {
				return nil, err
			}

			item, err := interfaceToStarlark(refValue.MapIndex(rawKey).Interface())
			if err != nil {
				return nil, err
			}

			err = dict.SetKey(key, item)
			if err != nil {
				return nil, err
			}
		}

		return dict, nil
	}

	return nil, eris.Errorf("encountered unsupported type %v", refValue.Kind())
}
