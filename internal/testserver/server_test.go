package testserver_test

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/goalboard/internal/domain/model"
	"github.com/okian/goalboard/internal/testserver"
)

func readEnvelope(c *websocket.Conn) (model.Envelope, error) {
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env model.Envelope
	_, data, err := c.ReadMessage()
	if err != nil {
		return env, err
	}
	err = json.Unmarshal(data, &env)
	return env, err
}

func TestServer(t *testing.T) {
	Convey("Given a running fake goal service with a stream client", t, func() {
		srv := testserver.NewHTTPTest()
		defer srv.Close()
		srv.Seed(model.Goal{Title: "Run", Category: "health", ProgressPercentage: 50},
			model.Goal{Title: "Read", Status: model.StatusCompleted, ProgressPercentage: 100})

		conn, _, err := websocket.DefaultDialer.Dial(srv.WSURL(), nil)
		So(err, ShouldBeNil)
		defer conn.Close()
		for srv.Clients() == 0 {
			time.Sleep(time.Millisecond)
		}

		Convey("The dashboard reports goals and statistics", func() {
			resp, err := http.Get(srv.URL() + "/dashboard")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			var snap model.Snapshot
			So(json.NewDecoder(resp.Body).Decode(&snap), ShouldBeNil)
			So(len(snap.Goals), ShouldEqual, 2)
			So(snap.Statistics.TotalGoals, ShouldEqual, 2)
			So(snap.Statistics.CompletedGoals, ShouldEqual, 1)
			So(snap.Statistics.AverageProgress, ShouldEqual, 75)
			So(snap.Statistics.GoalsByCategory["Uncategorized"], ShouldEqual, 1)
		})

		Convey("Creating a goal broadcasts goal_created", func() {
			resp, err := http.Post(srv.URL()+"/goals", "application/json", strings.NewReader(`{"title":"Swim"}`))
			So(err, ShouldBeNil)
			resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusOK)

			env, err := readEnvelope(conn)
			So(err, ShouldBeNil)
			So(env.Type, ShouldEqual, model.EventGoalCreated)
			So(string(env.Data), ShouldContainSubstring, `"id":3`)
		})

		Convey("A progress update reaching 100% completes the goal", func() {
			resp, err := http.Post(srv.URL()+"/goals/1/update", "application/json", strings.NewReader(`{"text":"done, 100%"}`))
			So(err, ShouldBeNil)
			resp.Body.Close()

			env, err := readEnvelope(conn)
			So(err, ShouldBeNil)
			So(env.Type, ShouldEqual, model.EventProgressUpdated)
			var data model.ProgressUpdatedData
			So(json.Unmarshal(env.Data, &data), ShouldBeNil)
			So(data.UpdatedGoal.Status, ShouldEqual, model.StatusCompleted)
			So(len(data.UpdatedGoal.ProgressEntries), ShouldEqual, 1)
		})

		Convey("Deleting an unknown goal returns a FastAPI style detail", func() {
			req, _ := http.NewRequest(http.MethodDelete, srv.URL()+"/goals/42", nil)
			resp, err := http.DefaultClient.Do(req)
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusNotFound)
			var body map[string]string
			So(json.NewDecoder(resp.Body).Decode(&body), ShouldBeNil)
			So(body["detail"], ShouldEqual, "Goal not found")
		})

		Convey("FailDashboard fails the next requests only", func() {
			srv.FailDashboard(1)
			first, _ := http.Get(srv.URL() + "/dashboard")
			first.Body.Close()
			second, _ := http.Get(srv.URL() + "/dashboard")
			second.Body.Close()
			So(first.StatusCode, ShouldEqual, http.StatusInternalServerError)
			So(second.StatusCode, ShouldEqual, http.StatusOK)
			So(srv.DashboardCalls(), ShouldEqual, 2)
		})

		Convey("DropClients closes the stream", func() {
			srv.DropClients()
			_, err := readEnvelope(conn)
			So(err, ShouldNotBeNil)
		})
	})
}
