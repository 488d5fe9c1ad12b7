package eval

import (
	"context"
	"strconv"
	"strings"

	"github.com/fhirkit/core/pkg/fhirpath/ast"
	"github.com/fhirkit/core/pkg/fhirpath/types"
)

// FuncImpl is the signature for function implementations.
type FuncImpl func(ctx *Context, input types.Collection, args []interface{}) (types.Collection, error)

// FuncDef defines a FHIRPath function.
type FuncDef struct {
	Name    string
	MinArgs int
	MaxArgs int
	Fn      FuncImpl
}

// FuncRegistry is an interface for function lookup.
type FuncRegistry interface {
	Get(name string) (FuncDef, bool)
}

// Resolver handles FHIR reference resolution.
type Resolver interface {
	Resolve(ctx context.Context, reference string) ([]byte, error)
}

// Evaluator walks an ast.Node tree and produces a types.Collection.
type Evaluator struct {
	ctx   *Context
	funcs FuncRegistry
}

// Context holds the evaluation state.
type Context struct {
	root      types.Collection
	this      types.Collection
	index     int
	total     types.Value
	variables map[string]types.Collection
	limits    map[string]int
	goCtx     context.Context
	resolver  Resolver
}

// NewContext creates a new evaluation context.
// Automatically sets %resource and %context to the root resource for FHIR constraint evaluation.
// Per FHIRPath spec:
//   - %resource: the root resource being evaluated
//   - %context: the original node passed to the evaluation engine (same as %resource for top-level evaluation)
func NewContext(resource []byte) *Context {
	//nolint:errcheck // Empty collection is acceptable for invalid JSON in context creation
	root, _ := types.JSONToCollection(resource)

	// Initialize variables map with %resource and %context pointing to root
	// %resource is required by FHIR constraints like bdl-3, bdl-4
	// %context represents the evaluation context (same as root for top-level evaluation)
	variables := make(map[string]types.Collection)
	variables["resource"] = root
	variables["context"] = root

	return &Context{
		root:      root,
		this:      root,
		variables: variables,
		limits:    make(map[string]int),
		goCtx:     context.Background(),
	}
}

// SetLimit sets a limit value (e.g., maxDepth, maxCollectionSize).
func (c *Context) SetLimit(name string, value int) {
	if c.limits == nil {
		c.limits = make(map[string]int)
	}
	c.limits[name] = value
}

// GetLimit gets a limit value.
func (c *Context) GetLimit(name string) int {
	if c.limits == nil {
		return 0
	}
	return c.limits[name]
}

// SetContext sets the Go context for cancellation.
func (c *Context) SetContext(ctx context.Context) {
	c.goCtx = ctx
}

// Context returns the Go context.
func (c *Context) Context() context.Context {
	if c.goCtx == nil {
		return context.Background()
	}
	return c.goCtx
}

// SetResolver sets the reference resolver.
func (c *Context) SetResolver(r Resolver) {
	c.resolver = r
}

// GetResolver returns the reference resolver.
func (c *Context) GetResolver() Resolver {
	return c.resolver
}

// CheckCancellation checks if the context has been canceled.
func (c *Context) CheckCancellation() error {
	if c.goCtx == nil {
		return nil
	}
	select {
	case <-c.goCtx.Done():
		return c.goCtx.Err()
	default:
		return nil
	}
}

// CheckCollectionSize validates that a collection doesn't exceed the maximum size.
// Returns an error if the collection is too large.
func (c *Context) CheckCollectionSize(col types.Collection) error {
	maxSize := c.GetLimit("maxCollectionSize")
	if maxSize > 0 && len(col) > maxSize {
		return NewEvalError(ErrInvalidExpression,
			"collection size %d exceeds maximum allowed %d", len(col), maxSize)
	}
	return nil
}

// EnforceCollectionLimit truncates a collection if it exceeds the maximum size.
// Returns the (possibly truncated) collection and whether truncation occurred.
func (c *Context) EnforceCollectionLimit(col types.Collection) (types.Collection, bool) {
	maxSize := c.GetLimit("maxCollectionSize")
	if maxSize > 0 && len(col) > maxSize {
		return col[:maxSize], true
	}
	return col, false
}

// Root returns the root collection.
func (c *Context) Root() types.Collection {
	return c.root
}

// This returns the current $this value.
func (c *Context) This() types.Collection {
	return c.this
}

// WithThis returns a new context with the given $this value.
func (c *Context) WithThis(this types.Collection) *Context {
	newCtx := *c
	newCtx.this = this
	return &newCtx
}

// WithIndex returns a new context with the given $index value.
func (c *Context) WithIndex(index int) *Context {
	newCtx := *c
	newCtx.index = index
	return &newCtx
}

// SetVariable sets an external variable.
func (c *Context) SetVariable(name string, value types.Collection) {
	c.variables[name] = value
}

// GetVariable gets an external variable.
func (c *Context) GetVariable(name string) (types.Collection, bool) {
	v, ok := c.variables[name]
	return v, ok
}

// NewEvaluator creates a new evaluator with the given context and function registry.
func NewEvaluator(ctx *Context, funcs FuncRegistry) *Evaluator {
	return &Evaluator{ctx: ctx, funcs: funcs}
}

// Evaluate evaluates an AST node and returns the result.
func (e *Evaluator) Evaluate(tree ast.Node) (types.Collection, error) {
	result := e.Visit(tree)
	if err, ok := result.(error); ok {
		return nil, err
	}
	if col, ok := result.(types.Collection); ok {
		return col, nil
	}
	return types.Collection{}, nil
}

// Visit dispatches on the concrete ast.Node type, returning either a
// types.Collection or an error (as interface{}, mirroring the original
// visitor-pattern result convention so the helper methods below need no
// structural change).
func (e *Evaluator) Visit(node ast.Node) interface{} {
	if node == nil {
		return types.Collection{}
	}

	switch n := node.(type) {
	case ast.NullLiteral:
		return types.Collection{}
	case ast.BooleanLiteral:
		return types.Collection{types.NewBoolean(n.Value)}
	case ast.StringLiteral:
		return types.Collection{types.NewString(n.Value)}
	case ast.NumberLiteral:
		return e.visitNumberLiteral(n)
	case ast.DateLiteral:
		return e.visitDateLiteral(n)
	case ast.DateTimeLiteral:
		return e.visitDateTimeLiteral(n)
	case ast.TimeLiteral:
		return e.visitTimeLiteral(n)
	case ast.QuantityLiteral:
		return e.visitQuantityLiteral(n)
	case ast.CollectionLiteral:
		return e.visitCollectionLiteral(n)
	case ast.Identifier:
		return e.navigateMember(e.ctx.This(), stripBackticks(n.Name))
	case ast.ExternalConstant:
		return e.visitExternalConstant(n)
	case ast.ThisInvocation:
		return e.ctx.This()
	case ast.IndexInvocation:
		return types.Collection{types.NewInteger(int64(e.ctx.index))}
	case ast.TotalInvocation:
		if e.ctx.total != nil {
			return types.Collection{e.ctx.total}
		}
		return types.Collection{}
	case ast.FunctionCall:
		return e.visitFunctionCall(n)
	case ast.Invocation:
		return e.visitInvocation(n)
	case ast.Indexer:
		return e.visitIndexer(n)
	case ast.Polarity:
		return e.visitPolarity(n)
	case ast.Multiplicative:
		return e.visitMultiplicative(n)
	case ast.Additive:
		return e.visitAdditive(n)
	case ast.Union:
		return e.visitUnion(n)
	case ast.Inequality:
		return e.visitInequality(n)
	case ast.Equality:
		return e.visitEquality(n)
	case ast.Membership:
		return e.visitMembership(n)
	case ast.And:
		return e.visitAnd(n)
	case ast.Or:
		return e.visitOr(n)
	case ast.Implies:
		return e.visitImplies(n)
	case ast.TypeExpr:
		return e.visitTypeExpr(n)
	default:
		return NewEvalError(ErrInvalidExpression, "unsupported AST node %T", node)
	}
}

func (e *Evaluator) visitExternalConstant(n ast.ExternalConstant) interface{} {
	if value, ok := e.ctx.GetVariable(n.Name); ok {
		return value
	}
	return NewEvalError(ErrInvalidPath, "undefined variable: %"+n.Name)
}

func (e *Evaluator) visitNumberLiteral(n ast.NumberLiteral) interface{} {
	if n.IsLong {
		i, err := strconv.ParseInt(n.Text, 10, 64)
		if err != nil {
			return ParseError("invalid long: " + n.Text)
		}
		return types.Collection{types.NewInteger(i)}
	}

	if !strings.Contains(n.Text, ".") {
		if i, err := strconv.ParseInt(n.Text, 10, 64); err == nil {
			return types.Collection{types.NewInteger(i)}
		}
	}

	d, err := types.NewDecimal(n.Text)
	if err != nil {
		return ParseError("invalid number: " + n.Text)
	}
	return types.Collection{d}
}

func (e *Evaluator) visitDateLiteral(n ast.DateLiteral) interface{} {
	d, err := types.NewDate(n.Text)
	if err != nil {
		return ParseError("invalid date: " + n.Text)
	}
	return types.Collection{d}
}

func (e *Evaluator) visitDateTimeLiteral(n ast.DateTimeLiteral) interface{} {
	dt, err := types.NewDateTime(n.Text)
	if err != nil {
		return ParseError("invalid datetime: " + n.Text)
	}
	return types.Collection{dt}
}

func (e *Evaluator) visitTimeLiteral(n ast.TimeLiteral) interface{} {
	t, err := types.NewTime(n.Text)
	if err != nil {
		return ParseError("invalid time: " + n.Text)
	}
	return types.Collection{t}
}

func (e *Evaluator) visitQuantityLiteral(n ast.QuantityLiteral) interface{} {
	q, err := types.NewQuantity(n.Text)
	if err != nil {
		return ParseError("invalid quantity: " + n.Text)
	}
	return types.Collection{q}
}

func (e *Evaluator) visitCollectionLiteral(n ast.CollectionLiteral) interface{} {
	result := types.Collection{}
	for _, item := range n.Items {
		v := e.Visit(item)
		if err, ok := v.(error); ok {
			return err
		}
		if col, ok := v.(types.Collection); ok {
			result = append(result, col...)
		}
	}
	return result
}

// visitFunctionCall dispatches a FunctionCall node, handling the functions
// that require lazy or per-element evaluation before falling through to the
// general function registry.
func (e *Evaluator) visitFunctionCall(n ast.FunctionCall) interface{} {
	name := stripBackticks(n.Name)

	fn, ok := e.funcs.Get(name)
	if !ok {
		return FunctionNotFoundError(name)
	}

	argCount := len(n.Args)
	if argCount < fn.MinArgs {
		return InvalidArgumentsError(name, fn.MinArgs, argCount)
	}
	if fn.MaxArgs >= 0 && argCount > fn.MaxArgs {
		return InvalidArgumentsError(name, fn.MaxArgs, argCount)
	}

	input := e.ctx.This()
	switch name {
	case "where":
		if argCount > 0 {
			return e.evaluateWhere(input, n.Args[0])
		}
	case "exists":
		if argCount > 0 {
			return e.evaluateExists(input, n.Args[0])
		}
	case "all":
		if argCount > 0 {
			return e.evaluateAll(input, n.Args[0])
		}
	case "select":
		if argCount > 0 {
			return e.evaluateSelect(input, n.Args[0])
		}
	case "is":
		if argCount > 0 {
			return e.evaluateIsFunction(input, n.Args[0])
		}
	case "as":
		if argCount > 0 {
			return e.evaluateAsFunction(input, n.Args[0])
		}
	case "ofType":
		if argCount > 0 {
			return e.evaluateOfType(input, n.Args[0])
		}
	case "iif":
		if argCount >= 2 {
			return e.evaluateIif(input, n.Args)
		}
	}

	args := make([]interface{}, argCount)
	for i, argExpr := range n.Args {
		result := e.Visit(argExpr)
		if err, ok := result.(error); ok {
			return err
		}
		args[i] = result
	}

	result, err := fn.Fn(e.ctx, e.ctx.This(), args)
	if err != nil {
		return err
	}
	return result
}

// evaluateWhere evaluates the where() function with per-element criteria.
func (e *Evaluator) evaluateWhere(input types.Collection, criteria ast.Node) interface{} {
	result := types.Collection{}

	if err := e.ctx.CheckCollectionSize(input); err != nil {
		return err
	}

	for i, item := range input {
		if i%100 == 0 {
			if err := e.ctx.CheckCancellation(); err != nil {
				return err
			}
		}

		oldThis := e.ctx.this
		oldIndex := e.ctx.index
		e.ctx.this = types.Collection{item}
		e.ctx.index = i

		criteriaResult := e.Visit(criteria)

		e.ctx.this = oldThis
		e.ctx.index = oldIndex

		if err, ok := criteriaResult.(error); ok {
			return err
		}

		if col, ok := criteriaResult.(types.Collection); ok && !col.Empty() {
			if b, ok := col[0].(types.Boolean); ok && b.Bool() {
				result = append(result, item)
			}
		}
	}

	return result
}

// evaluateExists evaluates exists() with optional criteria.
func (e *Evaluator) evaluateExists(input types.Collection, criteria ast.Node) interface{} {
	for i, item := range input {
		if i%100 == 0 {
			if err := e.ctx.CheckCancellation(); err != nil {
				return err
			}
		}

		oldThis := e.ctx.this
		oldIndex := e.ctx.index
		e.ctx.this = types.Collection{item}
		e.ctx.index = i

		criteriaResult := e.Visit(criteria)

		e.ctx.this = oldThis
		e.ctx.index = oldIndex

		if err, ok := criteriaResult.(error); ok {
			return err
		}

		if col, ok := criteriaResult.(types.Collection); ok && !col.Empty() {
			if b, ok := col[0].(types.Boolean); ok && b.Bool() {
				return types.Collection{types.NewBoolean(true)}
			}
		}
	}

	return types.Collection{types.NewBoolean(false)}
}

// evaluateAll evaluates all() - returns true if all elements match criteria.
func (e *Evaluator) evaluateAll(input types.Collection, criteria ast.Node) interface{} {
	if input.Empty() {
		return types.Collection{types.NewBoolean(true)}
	}

	for i, item := range input {
		if i%100 == 0 {
			if err := e.ctx.CheckCancellation(); err != nil {
				return err
			}
		}

		oldThis := e.ctx.this
		oldIndex := e.ctx.index
		e.ctx.this = types.Collection{item}
		e.ctx.index = i

		criteriaResult := e.Visit(criteria)

		e.ctx.this = oldThis
		e.ctx.index = oldIndex

		if err, ok := criteriaResult.(error); ok {
			return err
		}

		if col, ok := criteriaResult.(types.Collection); ok {
			if col.Empty() {
				return types.Collection{types.NewBoolean(false)}
			}
			if b, ok := col[0].(types.Boolean); ok && !b.Bool() {
				return types.Collection{types.NewBoolean(false)}
			}
		}
	}

	return types.Collection{types.NewBoolean(true)}
}

// evaluateSelect evaluates select() - projects each element.
func (e *Evaluator) evaluateSelect(input types.Collection, projection ast.Node) interface{} {
	result := types.Collection{}

	if err := e.ctx.CheckCollectionSize(input); err != nil {
		return err
	}

	for i, item := range input {
		if i%100 == 0 {
			if err := e.ctx.CheckCancellation(); err != nil {
				return err
			}
		}

		oldThis := e.ctx.this
		oldIndex := e.ctx.index
		e.ctx.this = types.Collection{item}
		e.ctx.index = i

		projResult := e.Visit(projection)

		e.ctx.this = oldThis
		e.ctx.index = oldIndex

		if err, ok := projResult.(error); ok {
			return err
		}

		if col, ok := projResult.(types.Collection); ok {
			result = append(result, col...)

			if err := e.ctx.CheckCollectionSize(result); err != nil {
				return err
			}
		}
	}

	return result
}

// evaluateIsFunction evaluates is(Type) - checks if input is of specified type.
func (e *Evaluator) evaluateIsFunction(input types.Collection, typeExpr ast.Node) interface{} {
	if input.Empty() {
		return types.Collection{}
	}

	if len(input) != 1 {
		return SingletonError(len(input))
	}

	typeName := extractTypeNameFromExpr(typeExpr)
	if typeName == "" {
		return InvalidArgumentsError("is", 1, 0)
	}

	actualType := input[0].Type()

	matches := TypeMatches(actualType, typeName)
	return types.Collection{types.NewBoolean(matches)}
}

// evaluateAsFunction evaluates as(Type) - casts input to specified type.
func (e *Evaluator) evaluateAsFunction(input types.Collection, typeExpr ast.Node) interface{} {
	if input.Empty() {
		return types.Collection{}
	}

	if len(input) != 1 {
		return SingletonError(len(input))
	}

	typeName := extractTypeNameFromExpr(typeExpr)
	if typeName == "" {
		return InvalidArgumentsError("as", 1, 0)
	}

	actualType := input[0].Type()

	if TypeMatches(actualType, typeName) {
		return input
	}

	return types.Collection{}
}

// extractTypeNameFromExpr extracts a type name from an argument expression.
// Handles identifiers like Composition, Patient, and qualified invocations
// like FHIR.Patient (parsed as a chain of Invocation/Identifier nodes).
func extractTypeNameFromExpr(expr ast.Node) string {
	return ast.Print(expr)
}

// evaluateOfType evaluates ofType() - filters collection by type.
// Unlike is()/as() which require singleton, ofType() works on collections.
func (e *Evaluator) evaluateOfType(input types.Collection, typeExpr ast.Node) interface{} {
	if input.Empty() {
		return types.Collection{}
	}

	typeName := extractTypeNameFromExpr(typeExpr)
	if typeName == "" {
		return InvalidArgumentsError("ofType", 1, 0)
	}

	result := types.Collection{}
	for _, item := range input {
		actualType := item.Type()

		if obj, ok := item.(*types.ObjectValue); ok {
			actualType = obj.Type()
		}

		if TypeMatches(actualType, typeName) {
			result = append(result, item)
		}
	}

	return result
}

// evaluateIif evaluates the iif() function with lazy evaluation.
// Only the matching branch is evaluated, preventing errors from the other branch.
// Signature: iif(criterion, true-result [, otherwise-result])
func (e *Evaluator) evaluateIif(_ types.Collection, argExprs []ast.Node) interface{} {
	if len(argExprs) < 2 {
		return InvalidArgumentsError("iif", 2, len(argExprs))
	}

	criterionResult := e.Visit(argExprs[0])
	if err, ok := criterionResult.(error); ok {
		return err
	}

	criterion := false
	if coll, ok := criterionResult.(types.Collection); ok {
		if !coll.Empty() {
			if b, ok := coll[0].(types.Boolean); ok {
				criterion = b.Bool()
			}
		}
	}

	if criterion {
		result := e.Visit(argExprs[1])
		if err, ok := result.(error); ok {
			return err
		}
		if coll, ok := result.(types.Collection); ok {
			return coll
		}
		return types.Collection{}
	}

	if len(argExprs) > 2 {
		result := e.Visit(argExprs[2])
		if err, ok := result.(error); ok {
			return err
		}
		if coll, ok := result.(types.Collection); ok {
			return coll
		}
	}

	return types.Collection{}
}

// visitInvocation visits base.step.
func (e *Evaluator) visitInvocation(n ast.Invocation) interface{} {
	base := e.Visit(n.Base)
	if err, ok := base.(error); ok {
		return err
	}
	baseCol, ok := base.(types.Collection)
	if !ok {
		baseCol = types.Collection{}
	}

	oldThis := e.ctx.this
	e.ctx.this = baseCol
	defer func() { e.ctx.this = oldThis }()

	return e.Visit(n.Step)
}

// visitIndexer visits base[index].
func (e *Evaluator) visitIndexer(n ast.Indexer) interface{} {
	base := e.Visit(n.Base)
	if err, ok := base.(error); ok {
		return err
	}
	baseCol := base.(types.Collection)

	index := e.Visit(n.Index)
	if err, ok := index.(error); ok {
		return err
	}
	indexCol := index.(types.Collection)

	if indexCol.Empty() {
		return types.Collection{}
	}

	idx, ok := indexCol[0].(types.Integer)
	if !ok {
		return TypeError("Integer", indexCol[0].Type(), "indexer")
	}

	i := int(idx.Value())
	if i < 0 || i >= len(baseCol) {
		return types.Collection{}
	}

	return types.Collection{baseCol[i]}
}

// visitPolarity visits +expr or -expr.
func (e *Evaluator) visitPolarity(n ast.Polarity) interface{} {
	result := e.Visit(n.Operand)
	if err, ok := result.(error); ok {
		return err
	}
	col := result.(types.Collection)

	if col.Empty() {
		return col
	}
	if len(col) != 1 {
		return SingletonError(len(col))
	}

	if n.Op == "-" {
		negated, err := Negate(col[0])
		if err != nil {
			return err
		}
		return types.Collection{negated}
	}

	return col
}

// visitMultiplicative visits expr * expr, expr / expr, div, mod.
func (e *Evaluator) visitMultiplicative(n ast.Multiplicative) interface{} {
	left := e.Visit(n.Left)
	if err, ok := left.(error); ok {
		return err
	}
	leftCol := left.(types.Collection)

	right := e.Visit(n.Right)
	if err, ok := right.(error); ok {
		return err
	}
	rightCol := right.(types.Collection)

	if leftCol.Empty() || rightCol.Empty() {
		return types.Collection{}
	}

	if len(leftCol) != 1 || len(rightCol) != 1 {
		return SingletonError(len(leftCol) + len(rightCol))
	}

	var result types.Value
	var err error

	switch n.Op {
	case "*":
		result, err = Multiply(leftCol[0], rightCol[0])
	case "/":
		result, err = Divide(leftCol[0], rightCol[0])
	case "div":
		result, err = IntegerDivide(leftCol[0], rightCol[0])
	case "mod":
		result, err = Modulo(leftCol[0], rightCol[0])
	}

	if err != nil {
		return err
	}
	return types.Collection{result}
}

// visitAdditive visits expr + expr, expr - expr, expr & expr.
func (e *Evaluator) visitAdditive(n ast.Additive) interface{} {
	left := e.Visit(n.Left)
	if err, ok := left.(error); ok {
		return err
	}
	leftCol := left.(types.Collection)

	right := e.Visit(n.Right)
	if err, ok := right.(error); ok {
		return err
	}
	rightCol := right.(types.Collection)

	if n.Op == "&" {
		return Concatenate(leftCol, rightCol)
	}

	if leftCol.Empty() || rightCol.Empty() {
		return types.Collection{}
	}

	if len(leftCol) != 1 || len(rightCol) != 1 {
		return SingletonError(len(leftCol) + len(rightCol))
	}

	var result types.Value
	var err error

	switch n.Op {
	case "+":
		result, err = Add(leftCol[0], rightCol[0])
	case "-":
		result, err = Subtract(leftCol[0], rightCol[0])
	}

	if err != nil {
		return err
	}
	return types.Collection{result}
}

// visitUnion visits expr | expr.
func (e *Evaluator) visitUnion(n ast.Union) interface{} {
	left := e.Visit(n.Left)
	if err, ok := left.(error); ok {
		return err
	}
	leftCol := left.(types.Collection)

	right := e.Visit(n.Right)
	if err, ok := right.(error); ok {
		return err
	}
	rightCol := right.(types.Collection)

	return Union(leftCol, rightCol)
}

// visitInequality visits comparison expressions.
func (e *Evaluator) visitInequality(n ast.Inequality) interface{} {
	left := e.Visit(n.Left)
	if err, ok := left.(error); ok {
		return err
	}
	leftCol := left.(types.Collection)

	right := e.Visit(n.Right)
	if err, ok := right.(error); ok {
		return err
	}
	rightCol := right.(types.Collection)

	if leftCol.Empty() || rightCol.Empty() {
		return types.Collection{}
	}

	if len(leftCol) != 1 || len(rightCol) != 1 {
		return SingletonError(len(leftCol) + len(rightCol))
	}

	var result types.Collection
	var err error

	switch n.Op {
	case "<":
		result, err = LessThan(leftCol[0], rightCol[0])
	case "<=":
		result, err = LessOrEqual(leftCol[0], rightCol[0])
	case ">":
		result, err = GreaterThan(leftCol[0], rightCol[0])
	case ">=":
		result, err = GreaterOrEqual(leftCol[0], rightCol[0])
	default:
		return types.Collection{}
	}

	if err != nil {
		return err
	}
	return result
}

// visitEquality visits equality expressions.
func (e *Evaluator) visitEquality(n ast.Equality) interface{} {
	left := e.Visit(n.Left)
	if err, ok := left.(error); ok {
		return err
	}
	leftCol := left.(types.Collection)

	right := e.Visit(n.Right)
	if err, ok := right.(error); ok {
		return err
	}
	rightCol := right.(types.Collection)

	switch n.Op {
	case "=":
		return Equal(leftCol, rightCol)
	case "!=":
		return NotEqual(leftCol, rightCol)
	case "~":
		return Equivalent(leftCol, rightCol)
	case "!~":
		return NotEquivalent(leftCol, rightCol)
	}

	return types.Collection{}
}

// visitMembership visits 'in' and 'contains' expressions.
func (e *Evaluator) visitMembership(n ast.Membership) interface{} {
	left := e.Visit(n.Left)
	if err, ok := left.(error); ok {
		return err
	}
	leftCol := left.(types.Collection)

	right := e.Visit(n.Right)
	if err, ok := right.(error); ok {
		return err
	}
	rightCol := right.(types.Collection)

	switch n.Op {
	case "in":
		return In(leftCol, rightCol)
	case "contains":
		return Contains(leftCol, rightCol)
	}

	return types.Collection{}
}

// visitAnd visits expr and expr.
func (e *Evaluator) visitAnd(n ast.And) interface{} {
	left := e.Visit(n.Left)
	if err, ok := left.(error); ok {
		return err
	}
	leftCol := left.(types.Collection)

	right := e.Visit(n.Right)
	if err, ok := right.(error); ok {
		return err
	}
	rightCol := right.(types.Collection)

	return And(leftCol, rightCol)
}

// visitOr visits expr or expr, expr xor expr.
func (e *Evaluator) visitOr(n ast.Or) interface{} {
	left := e.Visit(n.Left)
	if err, ok := left.(error); ok {
		return err
	}
	leftCol := left.(types.Collection)

	right := e.Visit(n.Right)
	if err, ok := right.(error); ok {
		return err
	}
	rightCol := right.(types.Collection)

	switch n.Op {
	case "or":
		return Or(leftCol, rightCol)
	case "xor":
		return Xor(leftCol, rightCol)
	}

	return types.Collection{}
}

// visitImplies visits expr implies expr.
func (e *Evaluator) visitImplies(n ast.Implies) interface{} {
	left := e.Visit(n.Left)
	if err, ok := left.(error); ok {
		return err
	}
	leftCol := left.(types.Collection)

	right := e.Visit(n.Right)
	if err, ok := right.(error); ok {
		return err
	}
	rightCol := right.(types.Collection)

	return Implies(leftCol, rightCol)
}

// visitTypeExpr visits 'is' and 'as' expressions.
func (e *Evaluator) visitTypeExpr(n ast.TypeExpr) interface{} {
	left := e.Visit(n.Left)
	if err, ok := left.(error); ok {
		return err
	}
	leftCol := left.(types.Collection)

	if leftCol.Empty() {
		return types.Collection{}
	}

	if len(leftCol) != 1 {
		return SingletonError(len(leftCol))
	}

	actualType := leftCol[0].Type()

	switch n.Op {
	case "is":
		return types.Collection{types.NewBoolean(TypeMatches(actualType, n.TypeName))}
	case "as":
		if TypeMatches(actualType, n.TypeName) {
			return leftCol
		}
		return types.Collection{}
	}

	return types.Collection{}
}

// nonDomainResources contains FHIR resources that inherit directly from Resource,
// not from DomainResource. All other resources inherit from DomainResource.
var nonDomainResources = map[string]bool{
	"Bundle":     true,
	"Binary":     true,
	"Parameters": true,
}

// IsDomainResource returns true if the given resource type inherits from DomainResource.
// Bundle, Binary, and Parameters inherit directly from Resource, not DomainResource.
func IsDomainResource(resourceType string) bool {
	return !nonDomainResources[resourceType]
}

// IsSubtypeOf checks if actualType is a subtype of (or equal to) baseType.
// This handles the FHIR type hierarchy:
//
//	Resource
//	  └── DomainResource
//	        ├── Patient
//	        ├── Observation
//	        └── ... (most resources)
//	  └── Bundle, Binary, Parameters (directly inherit from Resource)
func IsSubtypeOf(actualType, baseType string) bool {
	if actualType == baseType {
		return true
	}

	if strings.EqualFold(actualType, baseType) {
		return true
	}

	if baseType == "Resource" || strings.EqualFold(baseType, "resource") {
		return isPossibleResourceType(actualType)
	}

	if baseType == "DomainResource" || strings.EqualFold(baseType, "domainresource") {
		return isPossibleResourceType(actualType) && IsDomainResource(actualType)
	}

	return false
}

// isPossibleResourceType checks if the type looks like a FHIR resource type.
// Resource types are PascalCase and are not primitive types.
func isPossibleResourceType(typeName string) bool {
	if typeName == "" {
		return false
	}

	primitiveTypes := map[string]bool{
		"Boolean": true, "String": true, "Integer": true, "Decimal": true,
		"Date": true, "DateTime": true, "Time": true, "Quantity": true,
		"Object": true,
	}
	if primitiveTypes[typeName] {
		return false
	}

	return typeName[0] >= 'A' && typeName[0] <= 'Z'
}

// TypeMatches checks if actualType matches the requested typeName.
// Handles case-insensitive comparison and FHIR type aliases.
// This function is exported for use by the is() function implementation.
func TypeMatches(actualType, typeName string) bool {
	if actualType == typeName {
		return true
	}

	actualLower := strings.ToLower(actualType)
	typeNameLower := strings.ToLower(typeName)

	if actualLower == typeNameLower {
		return true
	}

	if IsSubtypeOf(actualType, typeName) {
		return true
	}

	// FHIR primitive type mappings (FHIR uses lowercase, FHIRPath uses PascalCase)
	fhirToFHIRPath := map[string]string{
		"boolean":        "Boolean",
		"string":         "String",
		"integer":        "Integer",
		"decimal":        "Decimal",
		"date":           "Date",
		"datetime":       "DateTime",
		"time":           "Time",
		"instant":        "DateTime",
		"uri":            "String",
		"url":            "String",
		"canonical":      "String",
		"base64binary":   "String",
		"code":           "String",
		"id":             "String",
		"markdown":       "String",
		"oid":            "String",
		"uuid":           "String",
		"positiveint":    "Integer",
		"unsignedint":    "Integer",
		"integer64":      "Integer",
		"quantity":       "Quantity",
		"simplequantity": "Quantity",
		"age":            "Quantity",
		"count":          "Quantity",
		"distance":       "Quantity",
		"duration":       "Quantity",
		"money":          "Quantity",
	}

	if fhirPathType, ok := fhirToFHIRPath[typeNameLower]; ok {
		if actualType == fhirPathType {
			return true
		}
	}

	if fhirPathType, ok := fhirToFHIRPath[actualLower]; ok {
		if fhirPathType == typeName || strings.EqualFold(fhirPathType, typeName) {
			return true
		}
	}

	// System type namespace handling (FHIR.* and System.*)
	if strings.HasPrefix(typeNameLower, "system.") {
		systemType := typeName[7:] // Remove "System." prefix
		if strings.EqualFold(actualType, systemType) {
			return true
		}
	}

	if strings.HasPrefix(typeNameLower, "fhir.") {
		fhirType := typeName[5:] // Remove "FHIR." prefix
		if strings.EqualFold(actualType, fhirType) {
			return true
		}
	}

	return false
}

// Helper functions

// polymorphicTypeSuffixes contains all FHIR type suffixes for polymorphic elements (value[x] pattern).
// These are used to resolve element names like "value" to "valueQuantity", "valueString", etc.
var polymorphicTypeSuffixes = []string{
	// Primitive types
	"Boolean", "Integer", "Integer64", "Decimal", "String", "Code", "Id", "Uri", "Url", "Canonical",
	"Base64Binary", "Instant", "Date", "DateTime", "Time", "Oid", "Uuid", "Markdown", "PositiveInt", "UnsignedInt",
	// Complex types
	"Quantity", "CodeableConcept", "Coding", "Range", "Period", "Ratio", "RatioRange",
	"Identifier", "Reference", "Attachment", "HumanName", "Address", "ContactPoint",
	"Timing", "Signature", "Annotation", "SampledData", "Age", "Distance", "Duration",
	"Count", "Money", "MoneyQuantity", "SimpleQuantity",
	// Special types
	"Meta", "Dosage", "ContactDetail", "Contributor", "DataRequirement", "Expression",
	"ParameterDefinition", "RelatedArtifact", "TriggerDefinition", "UsageContext",
}

// navigateMember navigates to a member of objects in the collection.
// Supports FHIR polymorphic elements (value[x] pattern) by automatically
// resolving element names like "value" to their typed variants.
func (e *Evaluator) navigateMember(input types.Collection, name string) types.Collection {
	result := types.Collection{}

	for _, item := range input {
		obj, ok := item.(*types.ObjectValue)
		if !ok {
			continue
		}

		// Check if name matches resourceType (for FHIR resources)
		// Uses IsSubtypeOf to handle Resource and DomainResource base types
		if IsSubtypeOf(obj.Type(), name) {
			result = append(result, obj)
			continue
		}

		children := obj.GetCollection(name)
		if len(children) > 0 {
			result = append(result, children...)
			continue
		}

		// If direct access failed, try polymorphic element resolution
		// This handles FHIR's value[x] pattern where "value" can resolve to
		// "valueQuantity", "valueString", "valueCodeableConcept", etc.
		polymorphicChildren := e.resolvePolymorphicField(obj, name)
		result = append(result, polymorphicChildren...)
	}

	return result
}

// resolvePolymorphicField attempts to resolve a polymorphic FHIR element.
// For example, accessing "value" will search for "valueQuantity", "valueString", etc.
func (e *Evaluator) resolvePolymorphicField(obj *types.ObjectValue, name string) types.Collection {
	result := types.Collection{}

	for _, suffix := range polymorphicTypeSuffixes {
		fieldName := name + suffix
		children := obj.GetCollection(fieldName)
		if len(children) > 0 {
			result = append(result, children...)
			// Return on first match - polymorphic elements have only one variant
			return result
		}
	}

	return result
}

// stripBackticks removes backtick delimiters from delimited identifiers.
// FHIRPath allows backticks for identifiers with special characters: `PID-1`
// The hand-written lexer already strips these during tokenizing; this stays
// as a defensive no-op for any text that still carries them.
func stripBackticks(s string) string {
	if len(s) >= 2 && s[0] == '`' && s[len(s)-1] == '`' {
		return s[1 : len(s)-1]
	}
	return s
}
