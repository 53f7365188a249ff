// Package prompt renders the instruction texts sent to the model.
package prompt

import (
	"fmt"
	"strings"

	"github.com/sprite-ai/mistborn/internal/model"
)

// NeedMoreContext is the phrase a retrieval-augmented reply uses to ask for
// another round of exemplars. Matching is case-insensitive.
const NeedMoreContext = "need to retrieve more context"

const patchTail = "Please only provide the patched code without any explanations or additional comments."

const basicTmpl = `
You are a security expert tasked with fixing a vulnerability in code.
Analyze the code and bug report below, then provide the patched code that fixes the vulnerabilities introduced by the commit.

Code for analysis:
%s

Bug Report: %s

` + patchTail + "\n"

const rewardTmpl = `
You are a security expert. You will be rewarded for fixing vulnerabilities in code correctly.
Using the vulnerability report below, generate a patch that fixes the vulnerability introduced by the commit.

Code for analysis:
%s

Bug Report: %s

` + patchTail + "\n"

const punishTmpl = `
You are a security expert. You will be punished if you fail to fix vulnerabilities in code.
Using the vulnerability report below, generate a patch that fixes the vulnerability introduced by the commit.

Code for analysis:
%s

Bug Report: %s

` + patchTail + "\n"

const chainOfThoughtTmpl = `
You are a security engineer. Walk through the vulnerability carefully before fixing it.

Code for analysis:
%s

Bug Report: %s

Follow these steps:
Step 1: Analyze the cause of the vulnerability.
Step 2: Suggest a secure change.
Step 3: Provide the fixed code.
Step 4: Check the fixed code for new issues.

` + patchTail + "\n"

const ragTmpl = `
You are a security engineer. Read the vulnerability report and the source code before fixing it.
Analyze the vulnerability and provide a patch for the vulnerability introduced by the commit.

Code for analysis:
%s

Bug Report: %s

Prior knowledge on how to fix the vulnerability: %s

Fix the vulnerability using the context above. Return only the fixed code.
If more information is needed, say: "Need to retrieve more context."
`

const selectionTmpl = `
You are a reviewer comparing several patch candidates for a known vulnerability.

Review the patches below and return the best one based on correctness, safety, and clarity.
Do NOT create a new patch. Return the label of the best one (for example "Patch 2") and its code.

%s`

const detectionTmpl = `
You are a security expert specializing in C programming. Review the code changes in a Git commit and determine whether they introduce any security vulnerabilities.

Repository: %s
Files changed: %d

Check for these common C vulnerability types:
%s

For each file, analyze the provided source and diff. Focus on the modifications and how they interact with the existing code.

Format your response like this:

File: <filename>
Vulnerable: yes/no
Vulnerable Statement: <copied or summarized code line(s)>
Vulnerability Type: <type, e.g., buffer overflow>

If a file has no vulnerability, use N/A for the statement and type.
Leave a blank line between each file's block.

Code for analysis:
%s
`

const yesNoTmpl = `
You are a security analyst. Based on the following vulnerability report, answer the question:

Does the report indicate that the code introduces at least one security vulnerability?

Only respond with one word: "yes" or "no".

Report:
%s

Answer:
`

// FormatFiles renders every changed file with its full content and diff.
func FormatFiles(files []model.ChangedFile) string {
	var b strings.Builder
	for i, f := range files {
		fmt.Fprintf(&b, "File%d: \nfile name:%s\n file content:\n```\n%s\n```\nfile changes:\n```\n%s\n```\n",
			i, f.Filename, f.Content, f.Patch)
	}
	return b.String()
}

// ForStrategy renders the prompt for one of the four static strategies.
func ForStrategy(s model.Strategy, filesText, report string) (string, error) {
	var tmpl string
	switch s {
	case model.Basic:
		tmpl = basicTmpl
	case model.RewardFramed:
		tmpl = rewardTmpl
	case model.PunishFramed:
		tmpl = punishTmpl
	case model.ChainOfThought:
		tmpl = chainOfThoughtTmpl
	default:
		return "", fmt.Errorf("no static prompt for strategy %s", s)
	}
	return fmt.Sprintf(tmpl, filesText, report), nil
}

// RAG renders the retrieval-augmented prompt with this round's exemplars.
func RAG(filesText, report string, retrieved []string) string {
	return fmt.Sprintf(ragTmpl, filesText, report, strings.Join(retrieved, "\n"))
}

// Selection lists every candidate as "Patch N" in strategy table order.
func Selection(candidates model.CandidateSet) string {
	byKey := candidates.ByKey()
	var b strings.Builder
	for _, e := range model.Strategies {
		text, ok := byKey[e.Key]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "Patch %d:\n%s\n\n", e.Ordinal, text)
	}
	return fmt.Sprintf(selectionTmpl, b.String())
}

// Detection renders the vulnerability detection prompt.
func Detection(repoName string, files []model.ChangedFile, patterns []string) string {
	list := "\n- " + strings.Join(patterns, "\n- ")
	return fmt.Sprintf(detectionTmpl, repoName, len(files), list, FormatFiles(files))
}

// YesNo asks the model to collapse a detection report to yes or no.
func YesNo(report string) string {
	return fmt.Sprintf(yesNoTmpl, strings.TrimSpace(report))
}
