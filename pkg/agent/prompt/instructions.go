package prompt

// Stage instruction blocks. Kept together so prompt wording changes are
// reviewed in one place.

const classifyInstructions = `Classify the user's request into exactly one category:

specific - a concrete question answerable with a single query (counts, lists, lookups, comparisons with named values)
exploratory_analytical - the user wants suggested analyses, trends, or interesting findings
exploratory_descriptive - the user wants to know what the dataset contains or an overview of it

Answer with exactly one of the three tokens above and nothing else.`

const planInstructions = `Write a conceptual analysis plan as a numbered list of 3 to 10 steps.
Each step is one prose sentence referencing only tables and columns from the dataset description.
Do not write SQL. Do not add commentary before or after the list.`

const insightsInstructions = `Propose 5 to 7 analytical questions about this dataset.
One question per line. Each question must be at most 30 words and answerable
by a single SQL query against the described tables. No commentary.`

const validateInstructions = `Judge whether the proposed plan can be executed against the dataset.

Respond in exactly one of these forms:
FEASIBLE
REVISED: <one-sentence rationale>
<corrected numbered plan>
INFEASIBLE: <one-sentence rationale>

A plan that references tables or columns absent from the dataset description
is infeasible unless an obvious near-match exists, in which case revise the
plan to use the matching names.`

const synthesizeInstructions = `Write exactly one PostgreSQL SELECT statement implementing the plan.
Rules:
- Reference only tables and columns from the dataset description.
- One statement only; no comments, no explanation, no markdown.
- Never write INSERT, UPDATE, DELETE, DROP, ALTER, ATTACH, PRAGMA or any
  other data-modifying statement.`

const debugInstructions = `A SQL statement failed against the dataset. Produce a corrected
PostgreSQL SELECT statement that answers the user's request.
Output the statement only; no comments, no explanation, no markdown.
Reference only tables and columns from the dataset description.`

const interpretInstructions = `You summarize query results for a non-technical reader.
Write one paragraph of at most 500 words. The first sentence must answer
the user's question directly. Cite at most five concrete values from the
rows. If told the results were truncated, say so explicitly.`

const describeInstructions = `You summarize a dataset for a non-technical reader.
Write 3 to 6 short paragraphs covering: which tables exist and what each
appears to represent, their approximate sizes, and any notable columns
(high cardinality, many nulls, interesting value distributions).
Do not write SQL and do not invent tables or columns.`
