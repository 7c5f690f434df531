package agents

import (
	"github.com/shipit-ai/fleet/pkg/agent"
)

// RegisterFleet registers the full roster in its canonical order.
func RegisterFleet(reg *agent.Registry, deps *Deps) error {
	handlers := []agent.Handler{
		NewProductIntelligence(deps),
		NewDesignSync(deps),
		NewCodeOrchestration(deps),
		NewSecurityCompliance(deps),
		NewTestIntelligence(deps),
		NewReviewCoordination(deps),
		NewDeploymentOrchestrator(deps),
		NewAnalyticsInsights(deps),
		NewSlackNotifier(deps),
	}
	for _, h := range handlers {
		if err := reg.Register(h); err != nil {
			return err
		}
	}
	return nil
}

// sampleDiff is the canned change used by manual triggers: a plausible
// auth feature with a deliberate SQL injection for the scanners to
// find.
const sampleDiff = `diff --git a/src/auth/login.py b/src/auth/login.py
--- a/src/auth/login.py
+++ b/src/auth/login.py
@@ -12,6 +12,28 @@ from app.models.user import User
+import hashlib
+import os
+
+def create_session(user: User, request: Request) -> str:
+    token = hashlib.sha256(os.urandom(32)).hexdigest()
+    session = Session(user_id=user.id, token=token, ip=request.client.host)
+    db.add(session)
+    return token
+
+def verify_token(token: str) -> User | None:
+    session = db.query(Session).filter_by(token=token).first()
+    if not session or session.expired:
+        return None
+    return session.user
+
+@router.post("/login")
+async def login(credentials: LoginRequest, db: AsyncSession = Depends(get_db)):
+    user = await db.execute(
+        select(User).where(User.email == credentials.email)
+    )
+    user = user.scalars().first()
+    if not user or not verify_password(credentials.password, user.hashed_password):
+        raise HTTPException(status_code=401, detail="Invalid credentials")
+    token = create_session(user, request)
+    return {"access_token": token, "user": user.to_dict()}

diff --git a/src/api/tasks.py b/src/api/tasks.py
--- a/src/api/tasks.py
+++ b/src/api/tasks.py
@@ -45,3 +45,18 @@ async def update_task(task_id: int, data: TaskUpdate):
+@router.delete("/{task_id}")
+async def delete_task(task_id: int, db: AsyncSession = Depends(get_db)):
+    query = f"DELETE FROM tasks WHERE id = {task_id}"
+    await db.execute(text(query))
+    await db.commit()
+    return {"deleted": True}
`

// DemoPayloads returns per-agent starter data for manual triggers, so
// an agent fired from the UI has something realistic to chew on.
// Caller-supplied trigger data overrides these keys.
func DemoPayloads() map[string]map[string]any {
	mrPayload := func() map[string]any {
		return map[string]any{
			"mr_iid":        87,
			"title":         "feat: Add user authentication and task deletion endpoint",
			"source_branch": "feature/SHIP-142-auth-system",
			"target_branch": "main",
			"diff":          sampleDiff,
			"files":         []string{"src/auth/login.py", "src/api/tasks.py"},
		}
	}

	return map[string]map[string]any{
		"product_intelligence": {
			"key":   "SHIP-142",
			"title": "Implement real-time WebSocket notifications for task updates",
			"description": "As a project manager, I need real-time notifications when tasks " +
				"are updated so the team stays synchronized. Requirements:\n" +
				"- WebSocket connection per authenticated user\n" +
				"- Notify on task status changes, assignments, comments\n" +
				"- Support @mentions with push notifications\n" +
				"- Graceful reconnection with exponential backoff\n" +
				"- Message queue for offline users",
			"status":      "To Do",
			"priority":    "High",
			"reporter":    "Roger Koranteng",
			"project_key": "SHIP",
		},
		"design_sync": {
			"file_key":  "figma-abc123xyz",
			"file_name": "ShipIt Design System v3",
			"demo_design_data": map[string]any{
				"file_key":      "figma-abc123xyz",
				"name":          "ShipIt Design System v3",
				"last_modified": "2025-02-15T14:30:00Z",
				"components": map[string]any{
					"TaskCard":          map[string]any{"description": "Kanban task card with priority badge, assignee avatar, and due date", "width": 320, "height": 180},
					"AgentStatusBadge":  map[string]any{"description": "Pill-shaped status indicator with animated pulse for running agents", "width": 120, "height": 32},
					"NotificationPanel": map[string]any{"description": "Slide-out panel with grouped notification items and mark-all-read", "width": 380, "height": 600},
					"SprintBoard":       map[string]any{"description": "Horizontal scrolling board with column headers showing task counts", "width": 1200, "height": 800},
				},
			},
		},
		"code_orchestration": {
			"issue_id":    "42",
			"title":       "Implement WebSocket notification system",
			"description": "Real-time push notifications via WebSocket for task updates and agent events.",
			"analysis": map[string]any{
				"summary": "websocket-notification-system",
				"stories": []any{
					map[string]any{"title": "WebSocket connection manager", "description": "Handle auth, reconnection, heartbeat"},
					map[string]any{"title": "Event broadcaster", "description": "Fan-out task events to subscribed clients"},
				},
			},
		},
		"security_compliance": mrPayload(),
		"test_intelligence":   mrPayload(),
		"review_coordination": mrPayload(),
		"deployment_orchestrator": {
			"ref":    "main",
			"mr_iid": 87,
			"title":  "feat: Add user authentication and task deletion endpoint",
			"commit_messages": []string{
				"feat: implement session-based auth with token management",
				"feat: add task deletion endpoint with soft-delete",
				"fix: handle expired sessions gracefully",
				"chore: add migration for sessions table",
			},
		},
		"analytics_insights": {},
	}
}
