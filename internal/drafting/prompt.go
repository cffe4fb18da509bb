package drafting

import "strings"

// System messages for the three drafting calls.
const (
	AnalysisSystem   = "你是一位专业的合同法律顾问和合同起草专家。"
	GenerationSystem = "你是一位资深的合同起草专家，精通中国合同法和各类商业合同。"
	RefinementSystem = "你是一位合同修改专家。"
)

// AnalysisPrompt asks for the contract type and key elements of a
// free-form requirement, as JSON.
const AnalysisPrompt = `你是一位专业的合同法律顾问。请分析用户的合同需求，提取关键信息。

用户需求：
{user_requirement}

请分析并输出以下信息（JSON格式）：
{
  "contract_type": "合同类型（如：劳动合同、采购合同、服务合同、租赁合同、自定义等）",
  "contract_title": "建议的合同标题",
  "key_elements": {
    "party_a": "甲方信息（如有）",
    "party_b": "乙方信息（如有）",
    "subject": "合同标的",
    "amount": "金额（如有）",
    "duration": "期限（如有）",
    "other_elements": {"其他关键要素"}
  },
  "special_requirements": ["用户的特殊要求"],
  "suggested_clauses": ["建议包含的条款类型"]
}
`

// GenerationPrompt asks for the full contract as plain text.
const GenerationPrompt = `你是一位资深的合同起草专家，精通中国合同法和各类商业合同。请根据以下信息生成一份专业、完整、合法的合同文档。

用户需求：
{user_requirement}

合同类型：{contract_type}

关键要素：
{elements}

要求：
1. 使用专业、规范的法律语言
2. 结构清晰，条款完整，逻辑严密
3. 包含所有必要的法律条款：
   - 合同双方信息
   - 合同标的和范围
   - 权利义务
   - 价款和支付方式
   - 履行期限和地点
   - 违约责任
   - 争议解决方式
   - 其他必要条款
4. 符合《中华人民共和国民法典》及相关法律法规
5. 格式规范，便于阅读和签署
6. 根据用户的特殊要求进行定制

请生成完整的合同内容，包括：
- 合同标题
- 合同编号（如需要）
- 甲乙双方完整信息
- 鉴于条款（如适用）
- 正文（分条款，每条可包含多款）
- 附则
- 签署栏

输出格式：纯文本，使用标准合同格式，条款编号清晰。
`

// RefinementPrompt asks for the whole contract back with the feedback
// applied.
const RefinementPrompt = `你是一位合同修改专家。请根据用户的反馈，对合同的特定部分进行优化。

当前合同内容：
{current_content}

用户反馈：
{user_feedback}

要求：
1. 理解用户的修改意图
2. 只修改用户提到的部分
3. 保持其他部分不变
4. 确保修改后的内容与整体合同协调一致
5. 保持专业的法律语言
6. 如果用户的要求可能导致法律风险，给出警告建议

请输出修改后的完整合同内容。
`

func BuildAnalysisPrompt(requirement string) string {
	return strings.NewReplacer("{user_requirement}", requirement).Replace(AnalysisPrompt)
}

func BuildGenerationPrompt(requirement, contractType, elements string) string {
	return strings.NewReplacer(
		"{user_requirement}", requirement,
		"{contract_type}", contractType,
		"{elements}", elements,
	).Replace(GenerationPrompt)
}

func BuildRefinementPrompt(content, feedback string) string {
	return strings.NewReplacer(
		"{current_content}", content,
		"{user_feedback}", feedback,
	).Replace(RefinementPrompt)
}
