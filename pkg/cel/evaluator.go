// Package cel compiles and evaluates the CEL expressions behind escalation
// rules. Expressions see a flattened view of a message plus its impact score
// and must return bool.
package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"concord/pkg/models"
)

type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("sender", cel.StringType),
		cel.Variable("recipient", cel.StringType),
		cel.Variable("tenant_id", cel.StringType),
		cel.Variable("conversation_id", cel.StringType),
		cel.Variable("action", cel.StringType),
		cel.Variable("priority", cel.StringType),
		cel.Variable("requested_tier", cel.StringType),
		cel.Variable("composite_score", cel.DoubleType),
		cel.Variable("degraded", cel.BoolType),
		cel.Variable("content", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

// ValidateRuleExpression checks that an expression compiles and returns bool.
// The registry calls this before accepting a rule.
func (e *Evaluator) ValidateRuleExpression(expression string) error {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("rule expression must return bool, got %v", ast.OutputType())
	}

	return nil
}

// EvaluateRule runs a rule expression against a message. Evaluation errors
// propagate; callers decide whether a broken rule matches or not.
func (e *Evaluator) EvaluateRule(ctx context.Context, expression string, msg *models.MessageEnvelope) (bool, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return false, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return false, fmt.Errorf("rule expression must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return false, fmt.Errorf("failed to create CEL program: %w", err)
	}

	result, _, err := program.ContextEval(ctx, e.messageVars(msg))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}

func (e *Evaluator) messageVars(msg *models.MessageEnvelope) map[string]interface{} {
	var composite float64
	var degraded bool
	if msg.Metadata.Score != nil {
		composite = msg.Metadata.Score.Composite
		degraded = msg.Metadata.Score.Degraded
	}

	content := msg.Content
	if content == nil {
		content = map[string]interface{}{}
	}

	return map[string]interface{}{
		"id":              msg.ID,
		"sender":          msg.Sender,
		"recipient":       msg.Recipient,
		"tenant_id":       msg.TenantID,
		"conversation_id": msg.ConversationID,
		"action":          msg.Action,
		"priority":        string(msg.Priority),
		"requested_tier":  string(msg.RequestedTier),
		"composite_score": composite,
		"degraded":        degraded,
		"content":         content,
	}
}
