package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	voiceparts "github.com/scoretools/voiceparts"
)

func main() {
	jsonOutput := flag.Bool("json", false, "Output the rule listing as JSON")
	ruleCode := flag.String("rule", "", "Print only the named rule (by code)")
	flag.Parse()

	if *ruleCode != "" {
		spec, ok := voiceparts.GetLintRuleSpec(*ruleCode)
		if !ok {
			fmt.Fprintf(os.Stderr, "unknown rule: %s\n", *ruleCode)
			os.Exit(1)
		}
		if *jsonOutput {
			printJSON(spec)
			return
		}
		fmt.Printf("%s: %s\n%s\nFails when: %s\nSuggested fix: %s\n",
			spec.Code, spec.Name, spec.Definition, spec.FailCondition, spec.Suggestion)
		return
	}

	if *jsonOutput {
		printJSON(voiceparts.LintRuleSpecs)
		return
	}
	fmt.Println(voiceparts.RenderLintRulesForPrompt())
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encode error: %v\n", err)
		os.Exit(1)
	}
}
