package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/checker/decls"
	"github.com/google/cel-go/common/types/ref"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"

	"github.com/shinyes/vidbox/internal/models"
	"github.com/shinyes/vidbox/internal/store"
)

var ErrInvalidFilter = errors.New("invalid filter")

// VideoFilter is a compiled CEL expression over video metadata together with
// the SQL prefilter that can be derived from it.
type VideoFilter struct {
	program      cel.Program
	sqlPrefilter store.VideoSQLPrefilter
}

var tagInShorthand = regexp.MustCompile(`(?i)\btag\s+in\s+\[((?:\s*"[^"\\]*(?:\\.[^"\\]*)*"\s*,?)*)\]`)

var allVisibilityValues = []models.Visibility{
	models.VisibilityPublic,
	models.VisibilityUnlisted,
	models.VisibilityPrivate,
}

// CompileVideoFilter returns nil for an empty expression.
func CompileVideoFilter(raw string) (*VideoFilter, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		return nil, nil
	}

	rewritten, err := rewriteTagInShorthand(normalized)
	if err != nil {
		return nil, err
	}

	env, err := cel.NewEnv(
		cel.Declarations(
			decls.NewVar("id", decls.String),
			decls.NewVar("creator_id", decls.Int),
			decls.NewVar("title", decls.String),
			decls.NewVar("description", decls.String),
			decls.NewVar("category", decls.String),
			decls.NewVar("visibility", decls.String),
			decls.NewVar("content_type", decls.String),
			decls.NewVar("size", decls.Int),
			decls.NewVar("views", decls.Int),
			decls.NewVar("tags", decls.NewListType(decls.String)),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build CEL env: %w", err)
	}

	ast, issues := env.Compile(rewritten)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("%w: expression must return bool, got %s", ErrInvalidFilter, out)
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build CEL program: %w", err)
	}

	return &VideoFilter{
		program:      program,
		sqlPrefilter: normalizePrefilter(derivePrefilter(ast.Expr())),
	}, nil
}

func (f *VideoFilter) Matches(video models.Video) (bool, error) {
	if f == nil {
		return true, nil
	}
	tags := video.Tags
	if tags == nil {
		tags = []string{}
	}
	out, _, err := f.program.Eval(map[string]any{
		"id":           video.ID,
		"creator_id":   video.CreatorID,
		"title":        video.Title,
		"description":  video.Description,
		"category":     video.Category,
		"visibility":   string(video.Visibility),
		"content_type": video.ContentType,
		"size":         video.Size,
		"views":        video.Views,
		"tags":         tags,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate CEL filter: %w", err)
	}
	return asBool(out)
}

func (f *VideoFilter) SQLPrefilter() store.VideoSQLPrefilter {
	if f == nil {
		return store.EmptyVideoPrefilter()
	}
	return f.sqlPrefilter
}

func asBool(v ref.Val) (bool, error) {
	switch val := v.Value().(type) {
	case bool:
		return val, nil
	default:
		return false, fmt.Errorf("filter expression must return bool, got %T", val)
	}
}

// rewriteTagInShorthand expands `tag in ["a", "b"]` into a tags.exists
// call that also matches nested tags such as "a/live".
func rewriteTagInShorthand(input string) (string, error) {
	matches := tagInShorthand.FindAllStringSubmatchIndex(input, -1)
	if len(matches) == 0 {
		return input, nil
	}

	var sb strings.Builder
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		listStart, listEnd := m[2], m[3]
		sb.WriteString(input[last:start])
		var tags []string
		if err := json.Unmarshal([]byte("["+input[listStart:listEnd]+"]"), &tags); err != nil {
			return "", fmt.Errorf("%w: tag list: %v", ErrInvalidFilter, err)
		}
		if len(tags) == 0 {
			sb.WriteString("false")
		} else {
			conds := make([]string, 0, len(tags))
			for _, tag := range tags {
				escaped := celQuote(tag)
				conds = append(conds, fmt.Sprintf(`tags.exists(t, t == "%s" || t.startsWith("%s/"))`, escaped, escaped))
			}
			sb.WriteString("(" + strings.Join(conds, " || ") + ")")
		}
		last = end
	}
	sb.WriteString(input[last:])
	return sb.String(), nil
}

func celQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

func unsatisfiable() store.VideoSQLPrefilter {
	return store.VideoSQLPrefilter{Unsatisfiable: true}
}

func derivePrefilter(expr *exprpb.Expr) store.VideoSQLPrefilter {
	if expr == nil {
		return store.EmptyVideoPrefilter()
	}
	if c := expr.GetConstExpr(); c != nil {
		if v, ok := constBool(c); ok && !v {
			return unsatisfiable()
		}
		return store.EmptyVideoPrefilter()
	}

	if call := expr.GetCallExpr(); call != nil {
		switch call.Function {
		case "_&&_":
			if len(call.Args) != 2 {
				return store.EmptyVideoPrefilter()
			}
			return mergePrefilterAnd(derivePrefilter(call.Args[0]), derivePrefilter(call.Args[1]))
		case "_||_":
			if len(call.Args) != 2 {
				return store.EmptyVideoPrefilter()
			}
			return mergePrefilterOr(derivePrefilter(call.Args[0]), derivePrefilter(call.Args[1]))
		case "_==_":
			return deriveEq(call, false)
		case "_!=_":
			return deriveEq(call, true)
		case "@in":
			return deriveIn(call, false)
		case "_>=_", "_>_":
			return deriveMinSize(call)
		case "!_":
			if len(call.Args) != 1 {
				return store.EmptyVideoPrefilter()
			}
			return deriveNegated(call.Args[0])
		}
		return store.EmptyVideoPrefilter()
	}

	if comp := expr.GetComprehensionExpr(); comp != nil {
		if group, ok := extractTagExistsGroup(comp); ok {
			return store.VideoSQLPrefilter{TagGroups: []store.TagMatchGroup{group}}
		}
	}
	return store.EmptyVideoPrefilter()
}

func deriveNegated(expr *exprpb.Expr) store.VideoSQLPrefilter {
	if c := expr.GetConstExpr(); c != nil {
		if v, ok := constBool(c); ok && v {
			return unsatisfiable()
		}
		return store.EmptyVideoPrefilter()
	}

	if call := expr.GetCallExpr(); call != nil {
		switch call.Function {
		case "_==_":
			return deriveEq(call, true)
		case "_!=_":
			return deriveEq(call, false)
		case "@in":
			return deriveIn(call, true)
		case "!_":
			if len(call.Args) != 1 {
				return store.EmptyVideoPrefilter()
			}
			return derivePrefilter(call.Args[0])
		case "_&&_":
			if len(call.Args) != 2 {
				return store.EmptyVideoPrefilter()
			}
			return mergePrefilterOr(deriveNegated(call.Args[0]), deriveNegated(call.Args[1]))
		case "_||_":
			if len(call.Args) != 2 {
				return store.EmptyVideoPrefilter()
			}
			return mergePrefilterAnd(deriveNegated(call.Args[0]), deriveNegated(call.Args[1]))
		}
		return store.EmptyVideoPrefilter()
	}

	if comp := expr.GetComprehensionExpr(); comp != nil {
		if group, ok := extractTagExistsGroup(comp); ok {
			return store.VideoSQLPrefilter{ExcludeTagGroups: []store.TagMatchGroup{group}}
		}
	}
	return store.EmptyVideoPrefilter()
}

// deriveEq handles `ident == const` in either operand order. With negate it
// handles `ident != const`, which only narrows closed value sets.
func deriveEq(call *exprpb.Expr_Call, negate bool) store.VideoSQLPrefilter {
	if len(call.Args) != 2 {
		return store.EmptyVideoPrefilter()
	}
	name, c, ok := identAndConst(call.Args[0], call.Args[1])
	if !ok {
		name, c, ok = identAndConst(call.Args[1], call.Args[0])
	}
	if !ok {
		return store.EmptyVideoPrefilter()
	}

	pf := store.EmptyVideoPrefilter()
	switch name {
	case "visibility":
		s, ok := constString(c)
		if !ok {
			return store.EmptyVideoPrefilter()
		}
		v := models.Visibility(s)
		if negate {
			if !v.IsValid() {
				return store.EmptyVideoPrefilter()
			}
			pf.VisibilityIn = without(allVisibilityValues, v)
			return pf
		}
		if !v.IsValid() {
			return unsatisfiable()
		}
		pf.VisibilityIn = []models.Visibility{v}
	case "category":
		s, ok := constString(c)
		if !ok || negate {
			return store.EmptyVideoPrefilter()
		}
		pf.CategoryIn = []string{s}
	case "content_type":
		s, ok := constString(c)
		if !ok || negate {
			return store.EmptyVideoPrefilter()
		}
		pf.ContentTypeIn = []string{s}
	case "creator_id":
		id, ok := constInt64(c)
		if !ok || negate {
			return store.EmptyVideoPrefilter()
		}
		pf.CreatorIDs = []int64{id}
	}
	return pf
}

func deriveIn(call *exprpb.Expr_Call, negate bool) store.VideoSQLPrefilter {
	if len(call.Args) != 2 {
		return store.EmptyVideoPrefilter()
	}
	lhs := call.Args[0]
	rhs := call.Args[1]

	// "x" in tags
	if isIdent(rhs, "tags") {
		s, ok := constString(lhs.GetConstExpr())
		if !ok {
			return store.EmptyVideoPrefilter()
		}
		group := store.TagMatchGroup{Options: []store.TagMatchOption{{Kind: store.TagMatchExact, Value: s}}}
		if negate {
			return store.VideoSQLPrefilter{ExcludeTagGroups: []store.TagMatchGroup{group}}
		}
		return store.VideoSQLPrefilter{TagGroups: []store.TagMatchGroup{group}}
	}

	id := lhs.GetIdentExpr()
	list := rhs.GetListExpr()
	if id == nil || list == nil {
		return store.EmptyVideoPrefilter()
	}

	pf := store.EmptyVideoPrefilter()
	switch id.Name {
	case "visibility":
		values := make([]models.Visibility, 0, len(list.Elements))
		for _, e := range list.Elements {
			s, ok := constString(e.GetConstExpr())
			if !ok {
				return store.EmptyVideoPrefilter()
			}
			if v := models.Visibility(s); v.IsValid() {
				values = append(values, v)
			}
		}
		if negate {
			values = without(allVisibilityValues, values...)
			if len(values) == len(allVisibilityValues) {
				return store.EmptyVideoPrefilter()
			}
		}
		if len(values) == 0 {
			return unsatisfiable()
		}
		pf.VisibilityIn = values
	case "category", "content_type":
		if negate {
			return store.EmptyVideoPrefilter()
		}
		values := make([]string, 0, len(list.Elements))
		for _, e := range list.Elements {
			s, ok := constString(e.GetConstExpr())
			if !ok {
				return store.EmptyVideoPrefilter()
			}
			values = append(values, s)
		}
		if len(values) == 0 {
			return unsatisfiable()
		}
		if id.Name == "category" {
			pf.CategoryIn = values
		} else {
			pf.ContentTypeIn = values
		}
	case "creator_id":
		if negate {
			return store.EmptyVideoPrefilter()
		}
		ids := make([]int64, 0, len(list.Elements))
		for _, e := range list.Elements {
			v, ok := constInt64(e.GetConstExpr())
			if !ok {
				return store.EmptyVideoPrefilter()
			}
			ids = append(ids, v)
		}
		if len(ids) == 0 {
			return unsatisfiable()
		}
		pf.CreatorIDs = ids
	}
	return pf
}

// deriveMinSize handles `size >= n` and `size > n`.
func deriveMinSize(call *exprpb.Expr_Call) store.VideoSQLPrefilter {
	if len(call.Args) != 2 || !isIdent(call.Args[0], "size") {
		return store.EmptyVideoPrefilter()
	}
	n, ok := constInt64(call.Args[1].GetConstExpr())
	if !ok {
		return store.EmptyVideoPrefilter()
	}
	if call.Function == "_>_" {
		if n == math.MaxInt64 {
			return unsatisfiable()
		}
		n++
	}
	return store.VideoSQLPrefilter{MinSize: &n}
}

func mergePrefilterAnd(a store.VideoSQLPrefilter, b store.VideoSQLPrefilter) store.VideoSQLPrefilter {
	if a.Unsatisfiable || b.Unsatisfiable {
		return unsatisfiable()
	}

	var out store.VideoSQLPrefilter
	var empty bool
	if out.CreatorIDs, empty = mergeSetAnd(a.CreatorIDs, b.CreatorIDs); empty {
		return unsatisfiable()
	}
	if out.CategoryIn, empty = mergeSetAnd(a.CategoryIn, b.CategoryIn); empty {
		return unsatisfiable()
	}
	if out.VisibilityIn, empty = mergeSetAnd(a.VisibilityIn, b.VisibilityIn); empty {
		return unsatisfiable()
	}
	if out.ContentTypeIn, empty = mergeSetAnd(a.ContentTypeIn, b.ContentTypeIn); empty {
		return unsatisfiable()
	}
	switch {
	case a.MinSize == nil:
		out.MinSize = b.MinSize
	case b.MinSize == nil:
		out.MinSize = a.MinSize
	default:
		n := max(*a.MinSize, *b.MinSize)
		out.MinSize = &n
	}

	out.TagGroups = append(slices.Clone(a.TagGroups), b.TagGroups...)
	out.ExcludeTagGroups = append(slices.Clone(a.ExcludeTagGroups), b.ExcludeTagGroups...)
	return out
}

func mergePrefilterOr(a store.VideoSQLPrefilter, b store.VideoSQLPrefilter) store.VideoSQLPrefilter {
	if a.Unsatisfiable {
		return b
	}
	if b.Unsatisfiable {
		return a
	}

	var out store.VideoSQLPrefilter
	out.CreatorIDs = mergeSetOr(a.CreatorIDs, b.CreatorIDs)
	out.CategoryIn = mergeSetOr(a.CategoryIn, b.CategoryIn)
	out.VisibilityIn = mergeSetOr(a.VisibilityIn, b.VisibilityIn)
	out.ContentTypeIn = mergeSetOr(a.ContentTypeIn, b.ContentTypeIn)
	if a.MinSize != nil && b.MinSize != nil {
		n := min(*a.MinSize, *b.MinSize)
		out.MinSize = &n
	}
	out.TagGroups = mergeTagGroupsOr(a.TagGroups, b.TagGroups)
	out.ExcludeTagGroups = intersectTagGroups(a.ExcludeTagGroups, b.ExcludeTagGroups)
	return out
}

func normalizePrefilter(pf store.VideoSQLPrefilter) store.VideoSQLPrefilter {
	if pf.Unsatisfiable {
		return pf
	}
	pf.CreatorIDs = unique(pf.CreatorIDs)
	pf.CategoryIn = unique(pf.CategoryIn)
	pf.VisibilityIn = unique(pf.VisibilityIn)
	pf.ContentTypeIn = unique(pf.ContentTypeIn)
	pf.TagGroups = normalizeTagGroups(pf.TagGroups)
	pf.ExcludeTagGroups = normalizeTagGroups(pf.ExcludeTagGroups)
	return pf
}

// mergeSetAnd treats an empty slice as "unconstrained". The second result
// reports an empty intersection.
func mergeSetAnd[T comparable](a []T, b []T) ([]T, bool) {
	switch {
	case len(a) == 0:
		return slices.Clone(b), false
	case len(b) == 0:
		return slices.Clone(a), false
	}
	out := make([]T, 0, len(a))
	for _, v := range a {
		if slices.Contains(b, v) {
			out = append(out, v)
		}
	}
	out = unique(out)
	return out, len(out) == 0
}

func mergeSetOr[T comparable](a []T, b []T) []T {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	return unique(append(slices.Clone(a), b...))
}

func unique[T comparable](values []T) []T {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[T]struct{}, len(values))
	out := make([]T, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func without[T comparable](values []T, excluded ...T) []T {
	out := make([]T, 0, len(values))
	for _, v := range values {
		if !slices.Contains(excluded, v) {
			out = append(out, v)
		}
	}
	return out
}

func mergeTagGroupsOr(a []store.TagMatchGroup, b []store.TagMatchGroup) []store.TagMatchGroup {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	if common := intersectTagGroups(a, b); len(common) > 0 {
		return common
	}
	if len(a) == 1 && len(b) == 1 {
		merged := store.TagMatchGroup{
			Options: unique(append(slices.Clone(a[0].Options), b[0].Options...)),
		}
		return []store.TagMatchGroup{merged}
	}
	return nil
}

func normalizeTagGroups(groups []store.TagMatchGroup) []store.TagMatchGroup {
	out := make([]store.TagMatchGroup, 0, len(groups))
	seen := map[string]struct{}{}
	for _, group := range groups {
		group.Options = unique(group.Options)
		if len(group.Options) == 0 {
			continue
		}
		key := tagGroupKey(group)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, group)
	}
	return out
}

func intersectTagGroups(a []store.TagMatchGroup, b []store.TagMatchGroup) []store.TagMatchGroup {
	inB := map[string]struct{}{}
	for _, group := range b {
		inB[tagGroupKey(group)] = struct{}{}
	}
	out := make([]store.TagMatchGroup, 0)
	for _, group := range normalizeTagGroups(a) {
		if _, ok := inB[tagGroupKey(group)]; ok {
			out = append(out, group)
		}
	}
	return out
}

func tagGroupKey(group store.TagMatchGroup) string {
	keys := make([]string, 0, len(group.Options))
	for _, option := range unique(group.Options) {
		keys = append(keys, fmt.Sprintf("%d:%s", option.Kind, option.Value))
	}
	slices.Sort(keys)
	return strings.Join(keys, "|")
}

func identAndConst(left *exprpb.Expr, right *exprpb.Expr) (string, *exprpb.Constant, bool) {
	id := left.GetIdentExpr()
	if id == nil {
		return "", nil, false
	}
	c := right.GetConstExpr()
	if c == nil {
		return "", nil, false
	}
	return id.Name, c, true
}

func constString(c *exprpb.Constant) (string, bool) {
	if v, ok := c.GetConstantKind().(*exprpb.Constant_StringValue); ok {
		return v.StringValue, true
	}
	return "", false
}

func constBool(c *exprpb.Constant) (bool, bool) {
	if v, ok := c.GetConstantKind().(*exprpb.Constant_BoolValue); ok {
		return v.BoolValue, true
	}
	return false, false
}

func constInt64(c *exprpb.Constant) (int64, bool) {
	switch v := c.GetConstantKind().(type) {
	case *exprpb.Constant_Int64Value:
		return v.Int64Value, true
	case *exprpb.Constant_Uint64Value:
		if v.Uint64Value > math.MaxInt64 {
			return 0, false
		}
		return int64(v.Uint64Value), true
	default:
		return 0, false
	}
}

// extractTagExistsGroup recognizes the expansion of
// tags.exists(t, t == "a" || t.startsWith("b")).
func extractTagExistsGroup(comp *exprpb.Expr_Comprehension) (store.TagMatchGroup, bool) {
	if !isIdent(comp.GetIterRange(), "tags") {
		return store.TagMatchGroup{}, false
	}
	loop := comp.GetLoopStep().GetCallExpr()
	if loop == nil || loop.Function != "_||_" || len(loop.Args) != 2 {
		return store.TagMatchGroup{}, false
	}

	var predicate *exprpb.Expr
	switch {
	case isIdent(loop.Args[0], comp.AccuVar):
		predicate = loop.Args[1]
	case isIdent(loop.Args[1], comp.AccuVar):
		predicate = loop.Args[0]
	default:
		return store.TagMatchGroup{}, false
	}

	options, ok := extractTagPredicateOptions(predicate, comp.IterVar)
	if !ok || len(options) == 0 {
		return store.TagMatchGroup{}, false
	}
	return store.TagMatchGroup{Options: options}, true
}

func extractTagPredicateOptions(expr *exprpb.Expr, iterVar string) ([]store.TagMatchOption, bool) {
	call := expr.GetCallExpr()
	if call == nil {
		return nil, false
	}
	switch call.Function {
	case "_||_":
		if len(call.Args) != 2 {
			return nil, false
		}
		left, okLeft := extractTagPredicateOptions(call.Args[0], iterVar)
		right, okRight := extractTagPredicateOptions(call.Args[1], iterVar)
		if !okLeft || !okRight {
			return nil, false
		}
		return append(left, right...), true
	case "_==_":
		if len(call.Args) != 2 {
			return nil, false
		}
		for i, arg := range call.Args {
			if isIdent(arg, iterVar) {
				if s, ok := constString(call.Args[1-i].GetConstExpr()); ok {
					return []store.TagMatchOption{{Kind: store.TagMatchExact, Value: s}}, true
				}
			}
		}
		return nil, false
	case "startsWith":
		if call.Target != nil && isIdent(call.Target, iterVar) && len(call.Args) == 1 {
			if s, ok := constString(call.Args[0].GetConstExpr()); ok {
				return []store.TagMatchOption{{Kind: store.TagMatchPrefix, Value: s}}, true
			}
		}
		return nil, false
	default:
		return nil, false
	}
}

func isIdent(expr *exprpb.Expr, name string) bool {
	id := expr.GetIdentExpr()
	return id != nil && id.Name == name
}
