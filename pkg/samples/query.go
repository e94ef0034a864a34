// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package samples

import (
	"fmt"
	"strings"

	"github.com/kadirpekel/maestro/pkg/agent"
	"github.com/kadirpekel/maestro/pkg/agent/llmagent"
	"github.com/kadirpekel/maestro/pkg/model"
	"github.com/kadirpekel/maestro/pkg/workflow"
)

// QueryWorkflowID is the entity ID of the bundled SQL query workflow.
const QueryWorkflowID = "query_generation"

// NewQueryGeneratorWorkflow builds the SQL pipeline: parse the schema,
// draft a query, validate it three ways in parallel, aggregate the
// findings, refine, and emit the bare SQL.
func NewQueryGeneratorWorkflow(llm model.LLM) (*workflow.Workflow, error) {
	agents := make(map[string]agent.Agent)
	for _, spec := range []struct {
		name        string
		description string
		instruction string
	}{
		{
			"schema_parser",
			"Analyzes database schema structure",
			"You analyze database schemas. From the DDL and the request in " +
				"the user's message, list the tables with their columns, note " +
				"keys and the joins they imply, and name which tables the " +
				"requested query needs. Keep the analysis under 150 words.",
		},
		{
			"query_generator",
			"Drafts a SQL query from the schema analysis",
			"You write SQL. Using the schema analysis above, produce a " +
				"SELECT statement with the exact table and column names, the " +
				"joins the relationships call for, and the filters the request " +
				"asks for. Show the formatted query followed by a one-sentence " +
				"explanation. Stay under 200 words.",
		},
		{
			"syntax_checker",
			"Checks the SQL for syntax errors",
			"You check SQL syntax only. Inspect the query above for malformed " +
				"clauses, unbalanced parentheses, and misused keywords. Reply " +
				"in under 80 words: a VALID or INVALID verdict, then any issues " +
				"found, or None.",
		},
		{
			"schema_validator",
			"Checks the SQL against the schema",
			"You verify a query against its schema. Confirm every table and " +
				"column the query touches exists in the schema and that joins " +
				"follow the declared keys. Reply in under 80 words: a VALID or " +
				"INVALID verdict, then any mismatches, or None.",
		},
		{
			"performance_reviewer",
			"Reviews the SQL for performance",
			"You review SQL for performance. Look at index-friendliness of " +
				"the filters, join order, SELECT * usage, and missing LIMIT " +
				"clauses. Reply in under 80 words: rate it GOOD, ACCEPTABLE or " +
				"NEEDS WORK, then your suggestions, or None.",
		},
		{
			"query_refiner",
			"Reworks the query using the validation feedback",
			"You refine SQL. Apply the validation summary above: fix flagged " +
				"syntax, correct schema mismatches, and take the performance " +
				"suggestions. If nothing was flagged, tidy the formatting and " +
				"add brief comments. Output the final query and two or three " +
				"sentences on what changed. Stay under 200 words.",
		},
		{
			"final_sql_output",
			"Emits only the final SQL statement",
			"You output the final SQL and nothing else. Take the refined " +
				"query from the conversation, indent it cleanly, and print the " +
				"bare statement: no prose, no code fences, no commentary.",
		},
	} {
		a, err := llmagent.New(llmagent.Config{
			Name:        spec.name,
			Description: spec.description,
			Model:       llm,
			Instruction: spec.instruction,
		})
		if err != nil {
			return nil, err
		}
		agents[spec.name] = a
	}

	parser := workflow.NewAgentExecutor(agents["schema_parser"])
	generator := workflow.NewAgentExecutor(agents["query_generator"])
	syntax := workflow.NewAgentExecutor(agents["syntax_checker"])
	schema := workflow.NewAgentExecutor(agents["schema_validator"])
	performance := workflow.NewAgentExecutor(agents["performance_reviewer"])
	refiner := workflow.NewAgentExecutor(agents["query_refiner"])
	output := workflow.NewAgentExecutor(agents["final_sql_output"])

	aggregator := workflow.NewFuncExecutor(
		"validation_aggregator",
		"Combines the parallel validation verdicts into one summary",
		aggregateValidations,
	)

	validators := []workflow.Executor{syntax, schema, performance}

	return workflow.New(QueryWorkflowID).
		SetStartExecutor(parser).
		AddEdge(parser, generator).
		AddFanOutEdges(generator, validators).
		AddFanInEdges(validators, aggregator).
		AddEdge(aggregator, refiner).
		AddEdge(refiner, output).
		Build()
}

// aggregateValidations labels each validator's verdict and joins them
// under a summary header for the refiner.
func aggregateValidations(ctx *workflow.Context, inputs []workflow.Input) error {
	validations := make([]string, 0, len(inputs))
	for _, in := range inputs {
		validations = append(validations,
			fmt.Sprintf("**%s**:\n%s", titleWords(in.ExecutorID), in.Text))
	}

	combined := strings.Join(validations, "\n\n")
	return ctx.SendMessage(fmt.Sprintf("=== VALIDATION SUMMARY ===\n\n%s\n\n", combined))
}

// titleWords turns an executor ID like syntax_checker into Syntax
// Checker.
func titleWords(id string) string {
	words := strings.Split(id, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
